package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Processor handles decoding, thumbnailing and encoding of images
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Format      string
}

// Decode decodes raw image bytes with WebP support
func (p *Processor) Decode(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}

	// Some encoders emit WebP variants the x/image decoder rejects
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}

	return nil, "", fmt.Errorf("image: unknown or unsupported format")
}

// Info returns dimensions of an image
func (p *Processor) Info(img image.Image, format string) ImageInfo {
	b := img.Bounds()
	info := ImageInfo{Width: b.Dx(), Height: b.Dy(), Format: format}
	if info.Height > 0 {
		info.AspectRatio = float64(info.Width) / float64(info.Height)
	}
	return info
}

// Thumbnail scales img down so its longest side is at most maxDim.
// Smaller images are returned unchanged.
func (p *Processor) Thumbnail(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// Encode encodes img as jpg, png or webp and returns the bytes and mime type
func (p *Processor) Encode(img image.Image, format string, quality int, lossless bool) ([]byte, string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: lossless, Quality: float32(quality)}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/webp", nil
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// DecodeBase64 decodes a base64 encoded image as sent by the prediction service
func (p *Processor) DecodeBase64(b64 string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	img, _, err := p.Decode(data)
	return img, err
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// DataURI renders bytes as a data URI
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

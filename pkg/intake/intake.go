// Package intake validates user supplied images and owns their previews.
package intake

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan/pkg/processing"
	"github.com/menta2k/pulmoscan/pkg/types"
)

// DefaultMaxBytes is the canonical upload limit (8 MiB)
const DefaultMaxBytes int64 = 8 << 20

// Config holds intake limits and preview rendering options
type Config struct {
	MaxBytes       int64
	PreviewMaxDim  int
	PreviewFormat  string
	PreviewQuality int
}

// DefaultConfig returns the default intake configuration
func DefaultConfig() Config {
	return Config{
		MaxBytes:       DefaultMaxBytes,
		PreviewMaxDim:  512,
		PreviewFormat:  "jpg",
		PreviewQuality: 85,
	}
}

// Intake holds at most one selected image. It is not safe for concurrent
// use; the workflow serializes access.
type Intake struct {
	config    Config
	processor *processing.Processor
	registry  *PreviewRegistry
	logger    *logrus.Logger
	current   *types.ImageAsset
}

// New creates an intake with the given configuration
func New(config Config, logger *logrus.Logger) *Intake {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Intake{
		config:    config,
		processor: processing.NewProcessor(),
		registry:  NewPreviewRegistry(),
		logger:    logger,
	}
}

// Validate checks a file against the type and size constraints
func (in *Intake) Validate(f types.File) error {
	if !strings.HasPrefix(strings.ToLower(f.MimeType), "image/") {
		return &types.ValidationError{Reason: types.ReasonNotAnImage, Size: f.Size(), Limit: in.config.MaxBytes}
	}
	if f.Size() > in.config.MaxBytes {
		return &types.ValidationError{Reason: types.ReasonTooLarge, Size: f.Size(), Limit: in.config.MaxBytes}
	}
	return nil
}

// Select validates f and makes it the current asset. On failure the
// current asset is left untouched.
func (in *Intake) Select(f types.File) (*types.ImageAsset, error) {
	if err := in.Validate(f); err != nil {
		in.logger.WithFields(logrus.Fields{
			"file": f.Name,
			"mime": f.MimeType,
			"size": f.Size(),
		}).Debugf("rejected upload: %v", err)
		return nil, err
	}

	// the old handle goes before the new one is created
	in.Release()

	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	asset := &types.ImageAsset{
		Name:     f.Name,
		MimeType: f.MimeType,
		Data:     data,
		Size:     int64(len(data)),
	}
	asset.Preview = in.buildPreview(asset)
	in.current = asset
	return asset, nil
}

// Current returns the selected asset or nil
func (in *Intake) Current() *types.ImageAsset {
	return in.current
}

// Release drops the current asset and its preview
func (in *Intake) Release() {
	if in.current == nil {
		return
	}
	in.registry.Release(in.current.Preview)
	in.current = nil
}

// Registry exposes the preview registry
func (in *Intake) Registry() *PreviewRegistry {
	return in.registry
}

// Config returns the intake configuration
func (in *Intake) Config() Config {
	return in.config
}

func (in *Intake) buildPreview(asset *types.ImageAsset) *types.PreviewHandle {
	img, format, err := in.processor.Decode(asset.Data)
	if err != nil {
		// Undecodable here does not mean undisplayable elsewhere
		in.logger.WithField("file", asset.Name).Debugf("preview falls back to raw bytes: %v", err)
		return in.registry.Create(asset.MimeType, processing.DataURI(asset.MimeType, asset.Data), 0, 0)
	}

	info := in.processor.Info(img, format)
	asset.Width, asset.Height = info.Width, info.Height

	thumb := in.processor.Thumbnail(img, in.config.PreviewMaxDim)
	encoded, mimeType, err := in.processor.Encode(thumb, in.config.PreviewFormat, in.config.PreviewQuality, false)
	if err != nil {
		in.logger.WithField("file", asset.Name).Warnf("preview encoding failed: %v", err)
		return in.registry.Create(asset.MimeType, processing.DataURI(asset.MimeType, asset.Data), info.Width, info.Height)
	}
	b := thumb.Bounds()
	return in.registry.Create(mimeType, processing.DataURI(mimeType, encoded), b.Dx(), b.Dy())
}

// SniffFile builds a File whose mime type is detected from its content
func SniffFile(name string, data []byte) types.File {
	return types.File{
		Name:     name,
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}
}

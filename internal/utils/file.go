package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/pulmoscan/pkg/types"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// NormalizeFormat maps user supplied output formats onto jpg, png or webp
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg":
		return "jpg", nil
	case "png", "":
		return "png", nil
	case "webp":
		return "webp", nil
	}
	return "", fmt.Errorf("unsupported output format: %s", format)
}

// ExplanationFilename names the file an explanation variant of input is
// written to, e.g. out/chest_pneumonia_overlay.png
func ExplanationFilename(inputFile, outputDir string, task types.DiseaseTask, mode types.ViewMode, format string) string {
	baseName := filepath.Base(inputFile)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	if nameWithoutExt == "" {
		nameWithoutExt = "upload"
	}
	outputName := fmt.Sprintf("%s_%s_%s.%s", SanitizeFilename(nameWithoutExt), task, mode, format)
	return filepath.Join(outputDir, outputName)
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := filename

	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	return strings.Trim(result, "_.")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// DescribeValidation turns an intake rejection into the message shown to users
func DescribeValidation(err *types.ValidationError) string {
	switch err.Reason {
	case types.ReasonNotAnImage:
		return "Please select a valid image file"
	case types.ReasonTooLarge:
		return fmt.Sprintf("File too large (%s, max %s)", FormatFileSize(err.Size), FormatFileSize(err.Limit))
	}
	return err.Error()
}

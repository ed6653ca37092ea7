package explain

import (
	"errors"

	"github.com/menta2k/pulmoscan/pkg/types"
)

var (
	// ErrUnavailable is returned by SetView when the result has no explanation
	ErrUnavailable = errors.New("no explainability for the current result")
	// ErrUnknownMode is returned for a mode that is not a ViewMode
	ErrUnknownMode = errors.New("unknown view mode")
)

// Controller tracks the displayed explanation variant of one result
type Controller struct {
	result *types.PredictionResponse
	mode   types.ViewMode
}

// NewController creates a controller showing the default view
func NewController() *Controller {
	return &Controller{mode: types.DefaultViewMode}
}

// Reset attaches a new result (or nil) and returns to the default view
func (c *Controller) Reset(result *types.PredictionResponse) {
	c.result = result
	c.mode = types.DefaultViewMode
}

// Enabled reports whether explanation UI may be shown
func (c *Controller) Enabled() bool {
	return c.result.HasExplainability()
}

// Mode returns the current view mode
func (c *Controller) Mode() types.ViewMode {
	return c.mode
}

// SetView switches the displayed variant
func (c *Controller) SetView(mode types.ViewMode) error {
	if !mode.Valid() {
		return ErrUnknownMode
	}
	if !c.Enabled() {
		return ErrUnavailable
	}
	c.mode = mode
	return nil
}

// ResolveSource returns the base64 image for the current mode or "".
// Original and heatmap never borrow another variant's image.
func (c *Controller) ResolveSource() string {
	if !c.Enabled() {
		return ""
	}
	return Resolve(c.result.Explain, c.mode)
}

// Available lists the modes that currently have an image
func (c *Controller) Available() []types.ViewMode {
	if !c.Enabled() {
		return nil
	}
	var out []types.ViewMode
	for _, m := range types.ViewModes() {
		if Resolve(c.result.Explain, m) != "" {
			out = append(out, m)
		}
	}
	return out
}

// Resolve picks the image of e for mode. The combined image of older
// responses already sits in the overlay slot.
func Resolve(e *types.Explanation, mode types.ViewMode) string {
	if e == nil {
		return ""
	}
	switch mode {
	case types.ViewOriginal:
		return e.Original
	case types.ViewHeatmap:
		return e.Heatmap
	case types.ViewOverlay:
		return e.Overlay
	}
	return ""
}

// DataURI renders a resolved source for an <img> tag
func DataURI(src string) string {
	if src == "" {
		return ""
	}
	return "data:image/png;base64," + src
}

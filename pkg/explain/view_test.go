package explain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/pulmoscan/pkg/types"
)

func result(e *types.Explanation) *types.PredictionResponse {
	return &types.PredictionResponse{
		Label:            "PNEUMONIA",
		ExplainRequested: true,
		ExplainSupported: true,
		Explain:          e,
	}
}

func TestControllerDefaults(t *testing.T) {
	c := NewController()
	assert.Equal(t, types.ViewOverlay, c.Mode())
	assert.False(t, c.Enabled())
	assert.Empty(t, c.ResolveSource())
	assert.Nil(t, c.Available())
}

func TestSetViewWithoutExplainability(t *testing.T) {
	c := NewController()
	c.Reset(&types.PredictionResponse{Label: "NORMAL"})

	err := c.SetView(types.ViewHeatmap)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, types.ViewOverlay, c.Mode(), "mode must not change")
}

func TestSetViewUnknownMode(t *testing.T) {
	c := NewController()
	c.Reset(result(&types.Explanation{Overlay: "V"}))
	assert.True(t, errors.Is(c.SetView("xray"), ErrUnknownMode))
	assert.Equal(t, types.ViewOverlay, c.Mode())
}

func TestResolveTriple(t *testing.T) {
	c := NewController()
	c.Reset(result(&types.Explanation{Original: "O", Overlay: "V", Heatmap: "H"}))

	assert.Equal(t, "V", c.ResolveSource())
	require.NoError(t, c.SetView(types.ViewOriginal))
	assert.Equal(t, "O", c.ResolveSource())
	require.NoError(t, c.SetView(types.ViewHeatmap))
	assert.Equal(t, "H", c.ResolveSource())
	assert.Equal(t, []types.ViewMode{types.ViewOriginal, types.ViewOverlay, types.ViewHeatmap}, c.Available())
}

func TestResolveLegacyCombined(t *testing.T) {
	c := NewController()
	c.Reset(result(&types.Explanation{Overlay: "C"}))

	assert.Equal(t, "C", c.ResolveSource())
	assert.Equal(t, []types.ViewMode{types.ViewOverlay}, c.Available())

	// original and heatmap do not borrow the combined image
	require.NoError(t, c.SetView(types.ViewOriginal))
	assert.Empty(t, c.ResolveSource())
	require.NoError(t, c.SetView(types.ViewHeatmap))
	assert.Empty(t, c.ResolveSource())
}

func TestResetReturnsToOverlay(t *testing.T) {
	c := NewController()
	c.Reset(result(&types.Explanation{Original: "O", Overlay: "V"}))
	require.NoError(t, c.SetView(types.ViewOriginal))

	c.Reset(result(&types.Explanation{Original: "O2", Overlay: "V2"}))
	assert.Equal(t, types.ViewOverlay, c.Mode())
	assert.Equal(t, "V2", c.ResolveSource())

	c.Reset(nil)
	assert.False(t, c.Enabled())
	assert.Empty(t, c.ResolveSource())
}

func TestResolveNil(t *testing.T) {
	assert.Empty(t, Resolve(nil, types.ViewOverlay))
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,abc", DataURI("abc"))
	assert.Empty(t, DataURI(""))
}

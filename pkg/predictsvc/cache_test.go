package predictsvc

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/pulmoscan/pkg/types"
)

func TestCacheServesRepeatedUploads(t *testing.T) {
	var calls int32
	c, err := NewCache(scripted(&calls), 8, nil)
	require.NoError(t, err)

	req := newRequest(types.TaskPneumonia, true)
	first, err := c.Predict(context.Background(), req)
	require.NoError(t, err)

	// a resubmission carries a fresh request ID but the same content
	req.ID = "req-2"
	second, err := c.Predict(context.Background(), req)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, c.Len())
}

func TestCacheKeyedByTaskExplainAndImage(t *testing.T) {
	var calls int32
	c, err := NewCache(scripted(&calls), 8, nil)
	require.NoError(t, err)

	base := newRequest(types.TaskPneumonia, false)
	variants := []types.PredictionRequest{base, base, base}
	variants[1].Explain = true
	variants[2].Task = types.TaskTuberculosis

	for _, req := range variants {
		_, err := c.Predict(context.Background(), req)
		require.NoError(t, err)
	}
	other := base
	other.Image = []byte("other image")
	_, err = c.Predict(context.Background(), other)
	require.NoError(t, err)

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, 4, c.Len())
}

func TestCacheSkipsFailures(t *testing.T) {
	var calls int32
	c, err := NewCache(scripted(&calls, types.NewRequestError(http.StatusInternalServerError, "", nil)), 8, nil)
	require.NoError(t, err)

	req := newRequest(types.TaskPneumonia, false)
	_, err = c.Predict(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCachePurge(t *testing.T) {
	var calls int32
	c, err := NewCache(scripted(&calls), 8, nil)
	require.NoError(t, err)

	req := newRequest(types.TaskPneumonia, false)
	_, _ = c.Predict(context.Background(), req)
	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, _ = c.Predict(context.Background(), req)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNewCacheRejectsBadSize(t *testing.T) {
	_, err := NewCache(scripted(new(int32)), 0, nil)
	assert.Error(t, err)
}

package predictsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan/pkg/client"
	"github.com/menta2k/pulmoscan/pkg/types"
)

// Cache remembers successful responses per (task, explain, image) so that
// resubmitting the same upload does not hit the service again
type Cache struct {
	next   client.PredictionClient
	cache  *lru.Cache[string, *types.WireResponse]
	logger *logrus.Logger
}

// NewCache decorates next with an LRU of the given size
func NewCache(next client.PredictionClient, size int, logger *logrus.Logger) (*Cache, error) {
	c, err := lru.New[string, *types.WireResponse](size)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Cache{next: next, cache: c, logger: logger}, nil
}

// Predict serves from cache or forwards to the wrapped client
func (c *Cache) Predict(ctx context.Context, req types.PredictionRequest) (*types.WireResponse, error) {
	key := cacheKey(req)
	if hit, ok := c.cache.Get(key); ok {
		c.logger.WithFields(logrus.Fields{"task": req.Task, "request_id": req.ID}).Debug("prediction served from cache")
		return hit, nil
	}

	resp, err := c.next.Predict(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, resp)
	return resp, nil
}

// Len returns the number of cached responses
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Purge drops every cached response
func (c *Cache) Purge() {
	c.cache.Purge()
}

func cacheKey(req types.PredictionRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Task))
	if req.Explain {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(req.Image)
	return hex.EncodeToString(h.Sum(nil))
}

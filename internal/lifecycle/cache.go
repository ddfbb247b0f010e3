package lifecycle

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"irisapi/internal/data"
)

// cacheKey includes the model version so entries from a replaced model
// are never served.
type cacheKey struct {
	version string
	sample  data.Sample
}

// predictionCache is a nil-safe wrapper; a nil cache never hits.
type predictionCache struct {
	lru *lru.Cache[cacheKey, Prediction]
}

func newPredictionCache(size int) *predictionCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[cacheKey, Prediction](size)
	if err != nil {
		return nil
	}
	return &predictionCache{lru: c}
}

func (c *predictionCache) get(k cacheKey) (Prediction, bool) {
	if c == nil {
		return Prediction{}, false
	}
	p, ok := c.lru.Get(k)
	if !ok {
		return Prediction{}, false
	}
	return p.clone(), true
}

func (c *predictionCache) add(k cacheKey, p Prediction) {
	if c == nil {
		return
	}
	c.lru.Add(k, p.clone())
}

func (c *predictionCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

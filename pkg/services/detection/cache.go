package detection

import (
	"sync"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
)

// Cache stores detection results across scans, keyed by "table.column".
// Entries hold only the PII side of a result; quasi-identifier annotation is
// per-scan and happens after the cache. Get and Put copy, so callers can
// mutate their result without poisoning later scans. Invalidate drops
// everything and is called whenever detection configuration changes.
type Cache struct {
	mu      sync.RWMutex
	results map[string]*models.DetectionResult
	logger  *zap.Logger
}

// NewCache creates an empty detection cache.
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		results: make(map[string]*models.DetectionResult),
		logger:  logger.Named("detection-cache"),
	}
}

// Get returns a copy of the cached result for key, if present.
func (c *Cache) Get(key string) (*models.DetectionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[key]
	if !ok {
		return nil, false
	}
	return copyResult(result), true
}

// Put stores a copy of the result under key.
func (c *Cache) Put(key string, result *models.DetectionResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = copyResult(result)
}

// Invalidate clears the cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	n := len(c.results)
	c.results = make(map[string]*models.DetectionResult)
	c.mu.Unlock()

	if n > 0 {
		c.logger.Info("detection cache invalidated", zap.Int("entries", n))
	}
}

// Len returns the number of cached columns.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

func copyResult(r *models.DetectionResult) *models.DetectionResult {
	cp := *r
	if r.Candidates != nil {
		cp.Candidates = make([]models.PiiCandidate, len(r.Candidates))
		copy(cp.Candidates, r.Candidates)
	}
	if r.CorrelatedColumns != nil {
		cp.CorrelatedColumns = make([]string, len(r.CorrelatedColumns))
		copy(cp.CorrelatedColumns, r.CorrelatedColumns)
	}
	return &cp
}

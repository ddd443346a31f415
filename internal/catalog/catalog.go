// Package catalog holds the target endpoints and picks among them by weight.
package catalog

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/torosent/stampede/internal/config"
)

// ErrEmpty is returned when a catalog is built without endpoints.
var ErrEmpty = errors.New("catalog: no endpoints configured")

// Catalog is an immutable, weighted set of endpoints. Select is safe for
// concurrent use.
type Catalog struct {
	endpoints   []config.Endpoint
	cumulative  []int
	totalWeight int

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithRand makes selection draw from r, serialized by the catalog. Used for
// reproducible sequences.
func WithRand(r *rand.Rand) Option {
	return func(c *Catalog) { c.rnd = r }
}

// New validates the endpoints and precomputes the cumulative weights.
func New(endpoints []config.Endpoint, opts ...Option) (*Catalog, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{
		endpoints:  append([]config.Endpoint(nil), endpoints...),
		cumulative: make([]int, len(endpoints)),
	}
	for idx, ep := range endpoints {
		if ep.Weight <= 0 {
			return nil, fmt.Errorf("catalog: endpoint %s: weight must be >= 1, got %d", ep.DisplayName(), ep.Weight)
		}
		c.totalWeight += ep.Weight
		c.cumulative[idx] = c.totalWeight
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Select returns an endpoint with probability proportional to its weight.
func (c *Catalog) Select() config.Endpoint {
	n := c.draw()
	idx := sort.SearchInts(c.cumulative, n+1)
	return c.endpoints[idx]
}

func (c *Catalog) draw() int {
	if c.rnd == nil {
		return rand.IntN(c.totalWeight)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.IntN(c.totalWeight)
}

// Endpoints returns a copy of the configured endpoints.
func (c *Catalog) Endpoints() []config.Endpoint {
	return append([]config.Endpoint(nil), c.endpoints...)
}

// Len returns the number of endpoints.
func (c *Catalog) Len() int {
	return len(c.endpoints)
}

// TotalWeight returns the sum of all endpoint weights.
func (c *Catalog) TotalWeight() int {
	return c.totalWeight
}

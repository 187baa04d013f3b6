// Package window implements the per-router plan collection window
// described in spec.md §4.8: incoming plan DAGs are accumulated into a
// "current" collection until the window closes, then handed off for
// analysis. Grounded on
// original_source/grouper/src/DAGCollection.cpp and
// DAGCollectionManager.cpp.
package window

import (
	"errors"
	"sync"

	"github.com/fabricdb/qfabric/dag"
)

// ErrSealed is returned by Add/Seal once a Collection has already been
// sealed (mirrors DagCollection::add's "Cannot add DAG to sealed
// collection" runtime error, and DagCollection::seal being called
// twice).
var ErrSealed = errors.New("window: collection already sealed")

// Collection accumulates plan DAGs for one window. It is safe for
// concurrent Add calls racing against Seal.
type Collection struct {
	mu     sync.Mutex
	cond   *sync.Cond
	dags   []*dag.DAG
	sealed bool
}

// NewCollection returns an empty, unsealed Collection.
func NewCollection() *Collection {
	c := &Collection{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Add appends d to the collection. It fails once the collection has
// been sealed.
func (c *Collection) Add(d *dag.DAG) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return ErrSealed
	}
	c.dags = append(c.dags, d)
	return nil
}

// Seal closes the collection to further Add calls and wakes anyone
// blocked in WaitSealed. Sealing an already-sealed collection reports
// ErrSealed.
func (c *Collection) Seal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return ErrSealed
	}
	c.sealed = true
	c.cond.Broadcast()
	return nil
}

// WaitSealed blocks until the collection is sealed.
func (c *Collection) WaitSealed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.sealed {
		c.cond.Wait()
	}
}

// IsSealed reports whether Seal has been called.
func (c *Collection) IsSealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// Len returns the number of DAGs currently held.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dags)
}

// DAGs returns a snapshot of the collection's DAGs. Safe to call
// before or after sealing; callers analyzing a sealed collection
// typically call this once after WaitSealed returns.
func (c *Collection) DAGs() []*dag.DAG {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*dag.DAG, len(c.dags))
	copy(out, c.dags)
	return out
}

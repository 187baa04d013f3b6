// Package catalog implements the process-wide (table, column) -> Column
// registry described in spec.md §3/§4.2: a single owned registry (not a
// singleton, per spec.md §9) passed by handle into every subsystem that
// needs to resolve column references.
package catalog

import (
	"errors"
	"sync"

	"github.com/fabricdb/qfabric/column"
)

// ErrDuplicate is returned by Add when (table, column) already exists.
var ErrDuplicate = errors.New("catalog: duplicate (table, column) identifier")

// Catalog is a reader/writer-locked registry of columns, keyed by
// table then column name. Reads share the lock; mutations exclude.
// Removing an entry only deletes the map entry, so a concurrent reader
// that already holds a handle to a Column continues to see consistent
// data even after the Catalog entry referencing it has been removed
// (spec.md §4.2/§5). The catalog does not call column.Column.Ref/Unref
// itself.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]map[string]*column.Column
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]map[string]*column.Column)}
}

// Add registers col under (table, name). It fails with ErrDuplicate if
// the identifier already exists; the existing column is left
// untouched (operators are expected to treat this as a data race and
// use the column that is already there, per spec.md §7).
func (c *Catalog) Add(table, name string, col *column.Column) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[table]
	if !ok {
		cols = make(map[string]*column.Column)
		c.tables[table] = cols
	}
	if _, exists := cols[name]; exists {
		return ErrDuplicate
	}
	cols[name] = col
	return nil
}

// Get returns the column registered under (table, name), or nil if it
// does not exist. The returned handle keeps the column alive even if
// it is concurrently Remove()'d or DropTable()'d from the catalog,
// because the catalog map entry does not own the Column; callers that
// want the Column's refcount to reflect their hold should call
// col.Ref() themselves.
func (c *Catalog) Get(table, name string) *column.Column {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols, ok := c.tables[table]
	if !ok {
		return nil
	}
	return cols[name]
}

// Remove deletes (table, name) and reports whether it existed.
func (c *Catalog) Remove(table, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[table]
	if !ok {
		return false
	}
	if _, exists := cols[name]; !exists {
		return false
	}
	delete(cols, name)
	if len(cols) == 0 {
		delete(c.tables, table)
	}
	return true
}

// DropTable removes every column of table and returns the number of
// entries erased.
func (c *Catalog) DropTable(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[table]
	if !ok {
		return 0
	}
	n := len(cols)
	delete(c.tables, table)
	return n
}

// Clear purges every entry from the catalog.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]map[string]*column.Column)
}

// Tables returns the current set of table names (a snapshot).
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tables))
	for t := range c.tables {
		out = append(out, t)
	}
	return out
}

// Columns returns the current set of column names registered under
// table (a snapshot, empty if the table does not exist).
func (c *Catalog) Columns(table string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols, ok := c.tables[table]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cols))
	for name := range cols {
		out = append(out, name)
	}
	return out
}

// Package docstore is a generic typed document store: each entity gets its
// own Collection[T] with registered secondary indexes, unique constraints,
// and ordered range queries. There is no untyped JSON "any" table — every
// collection is generic over its concrete Go struct.
//
// Atomicity is at the level of a single mutation call: Put either applies
// fully, including all index updates, or not at all; there is no
// cross-collection transaction.
package docstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// IndexDef declares one secondary index over a collection.
//
// Key groups documents (e.g. an agent id, an org id); Order subsorts
// documents within a key group so range queries return a stable sequence
// (e.g. requestedAt ascending). Unique indexes additionally reject a Put
// that would make two different document ids share the same Key().
type IndexDef[T any] struct {
	Name   string
	Key    func(T) string
	Order  func(T) string // lexicographically sortable order key; "" if unordered
	Unique bool
}

type indexEntry struct {
	id    string
	order string
}

type index[T any] struct {
	def     IndexDef[T]
	byKey   map[string][]indexEntry // key -> sorted entries
	uniqKey map[string]string       // key -> owning id, unique indexes only
}

// Collection is a typed, indexed, in-memory document table.
type Collection[T any] struct {
	mu      sync.RWMutex
	name    string
	docs    map[string]T
	indexes map[string]*index[T]
}

// NewCollection creates an empty collection named name with the given
// secondary indexes.
func NewCollection[T any](name string, defs ...IndexDef[T]) *Collection[T] {
	c := &Collection[T]{
		name:    name,
		docs:    make(map[string]T),
		indexes: make(map[string]*index[T]),
	}
	for _, d := range defs {
		c.indexes[d.Name] = &index[T]{
			def:     d,
			byKey:   make(map[string][]indexEntry),
			uniqKey: make(map[string]string),
		}
	}
	return c
}

// ErrUniqueConflict is returned by Put when a unique index would be
// violated.
type ErrUniqueConflict struct {
	Collection string
	Index      string
	Key        string
}

func (e *ErrUniqueConflict) Error() string {
	return fmt.Sprintf("docstore: unique index %s.%s already has an entry for %q", e.Collection, e.Index, e.Key)
}

// Put inserts (id == "") or patches (id != "") doc, returning its id.
// A new id is a random UUID. Put enforces every registered unique index
// before committing: either the whole write applies, including all index
// updates, or none of it does.
func (c *Collection[T]) Put(id string, doc T) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	isInsert := id == ""
	if isInsert {
		id = uuid.NewString()
	} else if _, exists := c.docs[id]; !exists {
		isInsert = true
	}

	// Pre-flight unique-index check so we never partially commit.
	for _, idx := range c.indexes {
		if !idx.def.Unique {
			continue
		}
		key := idx.def.Key(doc)
		if key == "" {
			continue
		}
		if owner, ok := idx.uniqKey[key]; ok && owner != id {
			return "", &ErrUniqueConflict{Collection: c.name, Index: idx.def.Name, Key: key}
		}
	}

	// Remove old index entries for this id (patch case).
	if !isInsert {
		if old, ok := c.docs[id]; ok {
			c.removeFromIndexes(id, old)
		}
	}

	c.docs[id] = doc
	for _, idx := range c.indexes {
		key := idx.def.Key(doc)
		if key == "" {
			continue
		}
		order := ""
		if idx.def.Order != nil {
			order = idx.def.Order(doc)
		}
		idx.byKey[key] = insertSorted(idx.byKey[key], indexEntry{id: id, order: order})
		if idx.def.Unique {
			idx.uniqKey[key] = id
		}
	}

	return id, nil
}

func (c *Collection[T]) removeFromIndexes(id string, doc T) {
	for _, idx := range c.indexes {
		key := idx.def.Key(doc)
		if key == "" {
			continue
		}
		entries := idx.byKey[key]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(idx.byKey, key)
		} else {
			idx.byKey[key] = filtered
		}
		if idx.def.Unique {
			if owner, ok := idx.uniqKey[key]; ok && owner == id {
				delete(idx.uniqKey, key)
			}
		}
	}
}

func insertSorted(entries []indexEntry, e indexEntry) []indexEntry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].order >= e.order })
	entries = append(entries, indexEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// Get returns the document with id, or (zero, false) if absent.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	return d, ok
}

// Delete removes a document and all of its index entries.
func (c *Collection[T]) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.docs[id]; ok {
		c.removeFromIndexes(id, old)
		delete(c.docs, id)
	}
}

// All returns every document in the collection, ordering undefined.
func (c *Collection[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	return out
}

// Query starts a range query against the named index.
func (c *Collection[T]) Query(indexName string) *Query[T] {
	return &Query[T]{coll: c, indexName: indexName}
}

// Query is a builder: ByIndex(key).Order(desc).Take(n).
type Query[T any] struct {
	coll      *Collection[T]
	indexName string
	key       string
	desc      bool
	limit     int
}

// ByIndex restricts the query to documents whose index key equals key.
func (q *Query[T]) ByIndex(key string) *Query[T] {
	q.key = key
	return q
}

// Order sets result ordering; desc=true returns newest/largest-order-key
// first.
func (q *Query[T]) Order(desc bool) *Query[T] {
	q.desc = desc
	return q
}

// Take executes the query, returning at most n documents.
func (q *Query[T]) Take(n int) []T {
	q.limit = n
	q.coll.mu.RLock()
	defer q.coll.mu.RUnlock()

	idx, ok := q.coll.indexes[q.indexName]
	if !ok {
		return nil
	}
	entries := idx.byKey[q.key]
	out := make([]T, 0, min(n, len(entries)))
	if q.desc {
		for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
			if d, ok := q.coll.docs[entries[i].id]; ok {
				out = append(out, d)
			}
		}
	} else {
		for i := 0; i < len(entries) && len(out) < n; i++ {
			if d, ok := q.coll.docs[entries[i].id]; ok {
				out = append(out, d)
			}
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

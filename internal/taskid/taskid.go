// Package taskid allocates task identifiers that are unique across every
// sibling instance of a task generator.
package taskid

import (
	"strconv"
	"sync"

	"github.com/benchlane/benchcore/internal/config"
)

// Allocator issues the ids of one instance. Instance i of count siblings owns
// the residue class i mod count, so the ids of all siblings combined are the
// non-negative integers without gaps or collisions.
type Allocator struct {
	mut    sync.Mutex
	next   int64
	stride int64
}

// New creates an allocator starting at the ordinal of the identity and
// advancing by its count.
func New(id config.Identity) *Allocator {
	return &Allocator{
		next:   int64(id.Ordinal),
		stride: int64(id.Count),
	}
}

// Next returns the current id and advances the counter. It is safe to call
// concurrently.
func (a *Allocator) Next() string {
	a.mut.Lock()
	id := a.next
	a.next += a.stride
	a.mut.Unlock()
	return strconv.FormatInt(id, 10)
}

// Peek returns the id that the next call to Next will return.
func (a *Allocator) Peek() int64 {
	a.mut.Lock()
	defer a.mut.Unlock()
	return a.next
}

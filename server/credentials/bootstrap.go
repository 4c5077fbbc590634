package credentials

import (
	"sync/atomic"
)

// DefaultBootstrap is the bootstrap state shared by all the resolvers of the
// process.
var DefaultBootstrap = NewBootstrap()

// Bootstrap records whether the vault database has been moved into place.
// The move is executed at most once per Bootstrap value: the first caller of
// Load runs it, callers arriving while it runs wait for it to finish, and
// callers arriving after it finished return immediately.
type Bootstrap struct {
	loaded    atomic.Bool
	done      chan struct{}
	available bool
}

// NewBootstrap returns a Bootstrap that has not run yet.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{done: make(chan struct{})}
}

// Load runs fn if no other call to Load did, and returns whether the vault
// database is available, as reported by the single execution of fn.
func (b *Bootstrap) Load(fn func() bool) bool {
	if b.loaded.CompareAndSwap(false, true) {
		defer close(b.done)
		b.available = fn()
		return b.available
	}
	<-b.done
	return b.available
}

// Loaded returns true once Load has been called.
func (b *Bootstrap) Loaded() bool {
	return b.loaded.Load()
}

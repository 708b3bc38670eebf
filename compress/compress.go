// Package compress implements per-message payload compression and the
// algorithm negotiation between the two ends of a connection.
//
// Algorithms form an open set identified by name. The identity
// algorithm is implicit: it is always accepted by both sides and never
// needs a Compressor implementation.
package compress

import (
	"errors"
	"sort"
	"sync"
)

// Identity is the reserved name for "no compression". It is always
// accepted and never registered.
const Identity = "identity"

// ErrTooLarge is returned by Decompress when the decompressed payload
// would exceed the caller's limit. The frame layer maps it to a
// ResourceExhausted status.
var ErrTooLarge = errors.New("compress: decompressed message exceeds size limit")

// Compressor wraps and unwraps frame payloads for one algorithm.
type Compressor interface {
	// Name identifies the algorithm on the wire.
	Name() string

	Compress(data []byte) ([]byte, error)

	// Decompress inflates data, failing with ErrTooLarge as soon as the
	// output would exceed maxSize bytes. maxSize <= 0 means unlimited.
	Decompress(data []byte, maxSize int) ([]byte, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]Compressor{}
)

// Register makes a compressor available by name. Registering Identity
// or an already-registered name panics: both indicate an init-time
// wiring mistake.
func Register(c Compressor) {
	mu.Lock()
	defer mu.Unlock()
	name := c.Name()
	if name == Identity {
		panic("compress: cannot register the identity algorithm")
	}
	if _, dup := registry[name]; dup {
		panic("compress: duplicate registration for " + name)
	}
	registry[name] = c
}

// Lookup resolves a registered compressor by name.
func Lookup(name string) (Compressor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Registered returns the sorted names of all registered algorithms.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

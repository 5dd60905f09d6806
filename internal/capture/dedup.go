package capture

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Dedup is the per-run deduplication set over (endpointKey, status,
// bodyHash) triples, folded to xxhash keys. Check-and-insert is atomic:
// the second caller presenting the same triple always observes the first
// caller's entry.
type Dedup struct {
	mu   sync.Mutex
	seen map[uint64]struct{}
}

// NewDedup creates an empty deduplication set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[uint64]struct{})}
}

// Seen records the triple and reports whether it was already present.
func (d *Dedup) Seen(endpointKey string, status int, bodyHash string) bool {
	key := dedupKey(endpointKey, status, bodyHash)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}

// Len returns the number of distinct triples recorded.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func dedupKey(endpointKey string, status int, bodyHash string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(endpointKey)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.Itoa(status))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(bodyHash)
	return h.Sum64()
}

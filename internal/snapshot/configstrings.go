package snapshot

import (
	"fmt"
	"sync"

	"github.com/energizer-project/fragline/internal/protocol"
)

// ConfigStrings is the server's configstring table. It is shared between
// the session loop, which reads it during joins, and the admin surface.
type ConfigStrings struct {
	mu      sync.RWMutex
	strings [protocol.MaxConfigStrings]string
}

// NewConfigStrings creates an empty table.
func NewConfigStrings() *ConfigStrings {
	return &ConfigStrings{}
}

// Set stores s at index i.
func (c *ConfigStrings) Set(i int, s string) error {
	if i < 0 || i >= protocol.MaxConfigStrings {
		return fmt.Errorf("configstring index %d out of range", i)
	}
	c.mu.Lock()
	c.strings[i] = s
	c.mu.Unlock()
	return nil
}

// Get returns the string at index i.
func (c *ConfigStrings) Get(i int) string {
	if i < 0 || i >= protocol.MaxConfigStrings {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strings[i]
}

// Entry is one non-empty configstring.
type Entry struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

// Entries returns the non-empty configstrings in index order. Values are
// clipped to MaxQPath bytes, the most a single slot can carry on the wire.
func (c *ConfigStrings) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for i, s := range c.strings {
		if s == "" {
			continue
		}
		if len(s) > protocol.MaxQPath {
			s = s[:protocol.MaxQPath]
		}
		out = append(out, Entry{Index: i, Value: s})
	}
	return out
}

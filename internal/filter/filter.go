// Package filter holds the operator's list of intercepted client commands.
// A command matching an entry is answered locally (printed, stuffed back or
// punished with a kick) instead of reaching the game.
package filter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Action is what happens when a filter matches.
type Action string

const (
	ActionIgnore Action = "ignore"
	ActionPrint  Action = "print"
	ActionStuff  Action = "stuff"
	ActionKick   Action = "kick"
)

// ParseAction validates an action name. Empty means ignore.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case "":
		return ActionIgnore, nil
	case ActionIgnore, ActionPrint, ActionStuff, ActionKick:
		return a, nil
	default:
		return "", fmt.Errorf("unknown filter action %q", s)
	}
}

// Filter is one entry of the list.
type Filter struct {
	Match   string `toml:"match" json:"match"`
	Action  Action `toml:"action" json:"action"`
	Comment string `toml:"comment,omitempty" json:"comment,omitempty"`
}

type fileFormat struct {
	Filters []Filter `toml:"filter"`
}

// List is the ordered, concurrency safe filter list.
type List struct {
	mu      sync.RWMutex
	filters []Filter
	path    string
}

// NewList creates an empty list persisted at path (empty for memory only).
func NewList(path string) *List {
	return &List{path: path}
}

// Load reads the list from its file. A missing file yields an empty list.
func (l *List) Load() error {
	if l.path == "" {
		return nil
	}

	var f fileFormat
	if _, err := toml.DecodeFile(l.path, &f); err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", l.path).Msg("no filter file, starting with empty list")
			return nil
		}
		return fmt.Errorf("failed to parse filter file: %w", err)
	}

	filters := make([]Filter, 0, len(f.Filters))
	for _, flt := range f.Filters {
		a, err := ParseAction(string(flt.Action))
		if err != nil {
			return fmt.Errorf("filter %q: %w", flt.Match, err)
		}
		flt.Action = a
		filters = append(filters, flt)
	}

	l.mu.Lock()
	l.filters = filters
	l.mu.Unlock()

	log.Info().Int("count", len(filters)).Str("path", l.path).Msg("filters loaded")
	return nil
}

// Save writes the list to its file.
func (l *List) Save() error {
	if l.path == "" {
		return nil
	}

	l.mu.RLock()
	f := fileFormat{Filters: append([]Filter(nil), l.filters...)}
	l.mu.RUnlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create filter directory: %w", err)
	}
	if err := os.WriteFile(l.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write filter file: %w", err)
	}
	return nil
}

// Find returns the first filter whose match equals cmd, ignoring case.
func (l *List) Find(cmd string) (Filter, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, f := range l.filters {
		if strings.EqualFold(f.Match, cmd) {
			return f, true
		}
	}
	return Filter{}, false
}

// Add appends a filter, replacing an existing one with the same match.
func (l *List) Add(f Filter) error {
	if f.Match == "" {
		return fmt.Errorf("filter needs a command to match")
	}
	a, err := ParseAction(string(f.Action))
	if err != nil {
		return err
	}
	f.Action = a

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.filters {
		if strings.EqualFold(l.filters[i].Match, f.Match) {
			l.filters[i] = f
			return nil
		}
	}
	l.filters = append(l.filters, f)
	return nil
}

// Remove deletes the filter matching cmd.
func (l *List) Remove(cmd string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.filters {
		if strings.EqualFold(l.filters[i].Match, cmd) {
			l.filters = append(l.filters[:i], l.filters[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the whole list after validating every entry.
func (l *List) Replace(filters []Filter) error {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f.Match == "" {
			return fmt.Errorf("filter needs a command to match")
		}
		a, err := ParseAction(string(f.Action))
		if err != nil {
			return err
		}
		f.Action = a
		out = append(out, f)
	}
	l.mu.Lock()
	l.filters = out
	l.mu.Unlock()
	return nil
}

// All returns a copy of the list.
func (l *List) All() []Filter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Filter(nil), l.filters...)
}

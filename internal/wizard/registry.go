package wizard

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

type snapshot struct {
	wizards  map[string]Definition
	checksum string
}

// Registry is a read-optimized, thread-safe store of wizard definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents. Later definitions with
// the same id win, so configured directories can override built-ins.
func (r *Registry) Replace(defs []Definition) {
	s := &snapshot{wizards: make(map[string]Definition, len(defs))}

	var checksumParts []string
	for _, def := range defs {
		s.wizards[def.ID] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the wizard definition with the given id.
func (r *Registry) Get(wizardID string) (Definition, bool) {
	d, ok := r.current().wizards[wizardID]
	return d, ok
}

// All returns every definition sorted by id.
func (r *Registry) All() []Definition {
	s := r.current()
	defs := make([]Definition, 0, len(s.wizards))
	for _, d := range s.wizards {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Count returns the number of loaded wizards.
func (r *Registry) Count() int {
	return len(r.current().wizards)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

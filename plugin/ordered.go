package plugin

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/hazyhaar/kreuzberg/kerr"
)

// prioritized is the common shape of validators and post-processors.
type prioritized interface {
	Name() string
	Priority() int
}

type entry[T prioritized] struct {
	item T
	seq  uint64
}

// ordered keeps plugins sorted by ascending priority, then registration
// order. Re-registering a name counts as a new registration.
type ordered[T prioritized] struct {
	kind   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries []entry[T]
	seq     uint64
}

func (o *ordered[T]) register(p T) error {
	name := p.Name()
	if name == "" {
		return kerr.Validation("plugin: %s name must not be empty", o.kind)
	}
	if err := initialize(p); err != nil {
		return kerr.PluginFailed(name, err)
	}

	o.mu.Lock()
	var old T
	replaced := false
	if i := slices.IndexFunc(o.entries, func(e entry[T]) bool { return e.item.Name() == name }); i >= 0 {
		old, replaced = o.entries[i].item, true
		o.entries = slices.Delete(o.entries, i, i+1)
	}
	o.seq++
	o.entries = append(o.entries, entry[T]{item: p, seq: o.seq})
	slices.SortStableFunc(o.entries, func(a, b entry[T]) int {
		if c := cmp.Compare(a.item.Priority(), b.item.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	o.mu.Unlock()

	if replaced {
		o.logger.Warn("plugin: replacing registered "+o.kind, o.kind, name)
		shutdown(o.logger, o.kind, name, old)
	}
	return nil
}

func (o *ordered[T]) unregister(name string) {
	o.mu.Lock()
	var old T
	found := false
	if i := slices.IndexFunc(o.entries, func(e entry[T]) bool { return e.item.Name() == name }); i >= 0 {
		old, found = o.entries[i].item, true
		o.entries = slices.Delete(o.entries, i, i+1)
	}
	o.mu.Unlock()
	if found {
		shutdown(o.logger, o.kind, name, old)
	}
}

func (o *ordered[T]) list() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, len(o.entries))
	for i, e := range o.entries {
		names[i] = e.item.Name()
	}
	return names
}

func (o *ordered[T]) clear() {
	o.mu.Lock()
	old := o.entries
	o.entries = nil
	o.mu.Unlock()
	for _, e := range old {
		shutdown(o.logger, o.kind, e.item.Name(), e.item)
	}
}

// snapshot returns the items matching keep, in execution order. The result
// is owned by the caller.
func (o *ordered[T]) snapshot(keep func(T) bool) []T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []T
	for _, e := range o.entries {
		if keep(e.item) {
			out = append(out, e.item)
		}
	}
	return out
}

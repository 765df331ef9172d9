// Package state holds the in-memory UI/session tree of one execution context.
//
// Paths are dot separated ("ui.layer"). Values written into the tree are deep
// copied on the way in and on the way out, so a reader never observes a
// partially applied write.
package state

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// WatchFunc receives the written path and the value now stored at the
// watched path.
type WatchFunc func(path string, value any)

// Store is a mutable tree addressed by dot paths.
type Store struct {
	mu       sync.RWMutex
	root     map[string]any
	watchers []*watcher
	nextID   uint64
}

type watcher struct {
	id   uint64
	path string
	fn   WatchFunc
}

// New builds a store seeded with a deep copy of initial.
func New(initial map[string]any) *Store {
	root := make(map[string]any)
	for key, value := range initial {
		root[key] = clone(value)
	}

	return &Store{root: root}
}

// Get returns the value at path.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := lookup(s.root, splitPath(path))
	if !ok {
		return nil, false
	}

	return clone(value), true
}

// Bool returns the bool at path, false when unset or of another type.
func (s *Store) Bool(path string) bool {
	value, _ := s.Get(path)
	b, ok := value.(bool)
	return ok && b
}

// String returns the string at path, "" when unset or of another type.
func (s *Store) String(path string) string {
	value, _ := s.Get(path)
	str, _ := value.(string)
	return str
}

// Snapshot returns a deep copy of the subtree at path. An empty path copies
// the whole tree.
func (s *Store) Snapshot(path string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := lookup(s.root, splitPath(path))
	if !ok {
		return map[string]any{}
	}

	tree, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}
	}

	return cloneMap(tree)
}

// Set writes value at path, creating intermediate maps. Watchers on the path,
// its ancestors and its descendants are notified after the write commits.
func (s *Store) Set(path string, value any) {
	keys := splitPath(path)

	s.mu.Lock()
	if len(keys) == 0 {
		tree, ok := value.(map[string]any)
		if !ok {
			s.mu.Unlock()
			return
		}
		s.root = cloneMap(tree)
	} else {
		assign(s.root, keys, clone(value))
	}
	notices := s.noticesLocked([]string{strings.Join(keys, ".")})
	s.mu.Unlock()

	deliver(notices)
}

// Delete removes the value at path.
func (s *Store) Delete(path string) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}

	s.mu.Lock()
	parent, ok := lookup(s.root, keys[:len(keys)-1])
	node, isMap := parent.(map[string]any)
	if !ok || !isMap {
		s.mu.Unlock()
		return
	}
	if _, exists := node[keys[len(keys)-1]]; !exists {
		s.mu.Unlock()
		return
	}
	delete(node, keys[len(keys)-1])
	notices := s.noticesLocked([]string{strings.Join(keys, ".")})
	s.mu.Unlock()

	deliver(notices)
}

// Merge deep-merges tree into the store. Nested maps merge key by key; any
// other value replaces what was there.
func (s *Store) Merge(tree map[string]any) {
	if len(tree) == 0 {
		return
	}

	s.mu.Lock()
	mergeInto(s.root, tree)
	touched := slices.Sorted(maps.Keys(tree))
	notices := s.noticesLocked(touched)
	s.mu.Unlock()

	deliver(notices)
}

// Watch calls fn whenever a write touches path. The returned func cancels the
// watch.
func (s *Store) Watch(path string, fn WatchFunc) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	w := &watcher{id: s.nextID, path: strings.Join(splitPath(path), "."), fn: fn}
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.watchers = slices.DeleteFunc(s.watchers, func(candidate *watcher) bool {
				return candidate.id == w.id
			})
		})
	}
}

type notice struct {
	fn    WatchFunc
	path  string
	value any
}

// noticesLocked resolves the values watchers will see while the write lock is
// still held.
func (s *Store) noticesLocked(written []string) []notice {
	var out []notice
	for _, w := range s.watchers {
		for _, path := range written {
			if !related(w.path, path) {
				continue
			}
			value, _ := lookup(s.root, splitPath(w.path))
			out = append(out, notice{fn: w.fn, path: path, value: clone(value)})
			break
		}
	}

	return out
}

func deliver(notices []notice) {
	for _, n := range notices {
		n.fn(n.path, n.value)
	}
}

// related reports whether a write at written affects a watcher at watched.
func related(watched string, written string) bool {
	if watched == "" || written == "" || watched == written {
		return true
	}

	return strings.HasPrefix(written, watched+".") || strings.HasPrefix(watched, written+".")
}

func splitPath(path string) []string {
	var keys []string
	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part != "" {
			keys = append(keys, part)
		}
	}

	return keys
}

func lookup(root map[string]any, keys []string) (any, bool) {
	var current any = root
	for _, key := range keys {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func assign(root map[string]any, keys []string, value any) {
	node := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[key] = next
		}
		node = next
	}

	node[keys[len(keys)-1]] = value
}

func mergeInto(dst map[string]any, src map[string]any) {
	for key, value := range src {
		incoming, incomingIsMap := value.(map[string]any)
		existing, existingIsMap := dst[key].(map[string]any)
		if incomingIsMap && existingIsMap {
			mergeInto(existing, incoming)
			continue
		}

		dst[key] = clone(value)
	}
}

func clone(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = clone(item)
		}
		return out
	default:
		return value
	}
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = clone(value)
	}

	return out
}

package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

// debounceInterval coalesces the burst of file events an editor save
// produces (write, chmod, rename) into a single reload.
const debounceInterval = 250 * time.Millisecond

// ProfilesChange describes the difference between two document loads.
type ProfilesChange struct {
	// Updated holds profiles that are new or whose content changed.
	Updated []*Profile
	// Removed holds refs that were present before and are gone now.
	Removed []Ref
}

// Store owns the in-memory profile set loaded from the profiles document.
// All lookups return copies; the store is safe for concurrent use.
type Store struct {
	path   string
	logger modular.Logger

	mu    sync.RWMutex
	byRef map[Ref]*Profile
	list  []*Profile // document order
	subs  []func(ProfilesChange)

	onReload func(error) // invoked after every watch-triggered reload

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStore creates a store for the document at path. Call Load before
// serving lookups and Watch to follow file edits.
func NewStore(path string, logger modular.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
		byRef:  make(map[Ref]*Profile),
	}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the document, replacing the in-memory set.
// Subscribers are not notified; notification is reserved for reloads.
func (s *Store) Load() error {
	return s.load(false)
}

// Profile returns a copy of the profile for the target/key pair.
func (s *Store) Profile(targetID, key string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byRef[Ref{TargetID: targetID, Key: key}]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// All returns copies of every profile in document order.
func (s *Store) All() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.list, func(p *Profile, _ int) *Profile { return p.Clone() })
}

// TargetIDs returns the distinct target IDs in document order.
func (s *Store) TargetIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Uniq(lo.Map(s.list, func(p *Profile, _ int) string { return p.TargetID }))
}

// Subscribe registers a callback for document changes. Callbacks run
// sequentially on the watcher goroutine after a reload lands.
func (s *Store) Subscribe(fn func(ProfilesChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// OnReload registers a callback invoked after every watch-triggered
// reload attempt with its outcome (nil on success).
func (s *Store) OnReload(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = fn
}

func (s *Store) load(notify bool) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentRead, err)
	}
	profs, warnings, err := parseDocument(data)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		s.logger.Warn("profiles document entry dropped", "detail", w)
	}

	byRef := make(map[Ref]*Profile, len(profs))
	for _, p := range profs {
		byRef[p.Ref()] = p
	}

	s.mu.Lock()
	old := s.byRef
	s.byRef = byRef
	s.list = profs
	subs := make([]func(ProfilesChange), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if !notify {
		return nil
	}
	change := diffProfiles(old, byRef)
	if len(change.Updated) == 0 && len(change.Removed) == 0 {
		return nil
	}
	for _, fn := range subs {
		fn(change)
	}
	return nil
}

// diffProfiles computes the change set between two loads. Results are
// sorted so subscribers see a deterministic order.
func diffProfiles(old, current map[Ref]*Profile) ProfilesChange {
	var change ProfilesChange
	for ref, p := range current {
		prev, ok := old[ref]
		if !ok || !reflect.DeepEqual(prev, p) {
			change.Updated = append(change.Updated, p.Clone())
		}
	}
	for ref := range old {
		if _, ok := current[ref]; !ok {
			change.Removed = append(change.Removed, ref)
		}
	}
	sort.Slice(change.Updated, func(i, j int) bool {
		a, b := change.Updated[i].Ref(), change.Updated[j].Ref()
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Key < b.Key
	})
	sort.Slice(change.Removed, func(i, j int) bool {
		if change.Removed[i].TargetID != change.Removed[j].TargetID {
			return change.Removed[i].TargetID < change.Removed[j].TargetID
		}
		return change.Removed[i].Key < change.Removed[j].Key
	})
	return change
}

// Watch follows the document's directory for edits. Watching the
// directory rather than the file survives editors that replace the file
// by rename.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = w
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	defer s.wg.Done()
	debounce := time.NewTimer(debounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(debounceInterval)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("profiles watcher error", "error", err)
		case <-debounce.C:
			err := s.load(true)
			if err != nil {
				s.logger.Error("profiles reload failed", "path", s.path, "error", err)
			} else {
				s.logger.Info("profiles document reloaded", "path", s.path)
			}
			s.mu.RLock()
			hook := s.onReload
			s.mu.RUnlock()
			if hook != nil {
				hook(err)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops watching. The store keeps serving its last loaded set.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	s.watcher = nil
	return err
}

// Package document owns the in-memory book aggregate for one editing
// session: it serializes mutations, gates them against the resolved
// permission set, and keeps bounded undo/redo history.
package document

import (
	"errors"
	"sync"

	"bookforge/api/internal/book"
	"bookforge/api/internal/permission"
	"bookforge/api/internal/util"
)

// DefaultHistoryDepth bounds the undo stack.
const DefaultHistoryDepth = 50

// ErrAccessDenied reports a mutation addressed outside the visible page
// set. It is advisory: the mutation was a no-op, nothing was corrupted,
// and callers may ignore it.
var ErrAccessDenied = errors.New("document: access denied")

// ErrNoBook reports a dispatch before any book was loaded.
var ErrNoBook = errors.New("document: no book loaded")

type entry struct {
	forward Command
	inverse Command
}

// Store holds one editing session's book. All mutations pass through
// Dispatch, which serializes them on a single lock so undo/redo
// ordering stays deterministic. History is session-local: it is never
// persisted and a Replace discards it.
type Store struct {
	mu         sync.Mutex
	book       *book.Book
	caps       permission.Capabilities
	activePage int
	undo       []entry
	redo       []entry
	depth      int
	newID      func() string
}

func NewStore() *Store {
	return &Store{
		depth: DefaultHistoryDepth,
		newID: func() string { return util.NewID("el") },
	}
}

// SetHistoryDepth overrides the undo stack bound. Zero or negative
// keeps the default.
func (s *Store) SetHistoryDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if depth > 0 {
		s.depth = depth
	}
}

// Replace loads a whole book, resets undo/redo history and applies the
// given capabilities. Used on initial load and after a server-confirmed
// reorder.
func (s *Store) Replace(b *book.Book, caps permission.Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book = b.Clone()
	s.caps = caps
	s.activePage = caps.ActivePage
	s.undo = nil
	s.redo = nil
}

// SetCapabilities installs a freshly resolved permission set, computed
// once per page navigation.
func (s *Store) SetCapabilities(caps permission.Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
	if caps.PageChanged || !permissionVisible(caps, s.activePage) {
		s.activePage = caps.ActivePage
	}
}

// Dispatch applies a forward mutation. On success the inverse is pushed
// onto the undo stack and the redo stack is cleared. Mutations gated
// out by permissions return ErrAccessDenied and change nothing.
func (s *Store) Dispatch(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.book == nil {
		return ErrNoBook
	}
	if err := s.gate(cmd); err != nil {
		return err
	}
	inverse, err := cmd.apply(s)
	if err != nil {
		return err
	}
	s.push(entry{forward: cmd, inverse: inverse})
	s.redo = nil
	return nil
}

// gate rejects canvas mutations outside the visible page set. Active
// page navigation is exempt: it clamps instead. A zero TargetPage means
// the mutation is book-scoped and touches every page, so it requires
// the whole book to be visible.
func (s *Store) gate(cmd Command) error {
	if _, ok := cmd.(SetActivePage); ok {
		return nil
	}
	if !s.caps.CanEditCanvas {
		return ErrAccessDenied
	}
	target := cmd.TargetPage()
	if target > 0 {
		if !permissionVisible(s.caps, target) {
			return ErrAccessDenied
		}
		return nil
	}
	for _, p := range s.book.Pages {
		if !permissionVisible(s.caps, p.Number) {
			return ErrAccessDenied
		}
	}
	return nil
}

// Undo reverts the most recent mutation. A no-op at the stack boundary.
func (s *Store) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.book == nil || len(s.undo) == 0 {
		return nil
	}
	top := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	forward, err := top.inverse.apply(s)
	if err != nil {
		return err
	}
	s.redo = append(s.redo, entry{forward: forward, inverse: top.forward})
	return nil
}

// Redo re-applies the most recently undone mutation. A no-op at the
// stack boundary.
func (s *Store) Redo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.book == nil || len(s.redo) == 0 {
		return nil
	}
	top := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	inverse, err := top.forward.apply(s)
	if err != nil {
		return err
	}
	s.undo = append(s.undo, entry{forward: top.forward, inverse: inverse})
	return nil
}

func (s *Store) push(e entry) {
	if len(s.undo) >= s.depth {
		copy(s.undo, s.undo[1:])
		s.undo = s.undo[:len(s.undo)-1]
	}
	s.undo = append(s.undo, e)
}

// Snapshot returns a deep copy of the current book, or nil before load.
func (s *Store) Snapshot() *book.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Clone()
}

// ActivePage returns the currently selected page number.
func (s *Store) ActivePage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePage
}

// Capabilities returns the permission set the store is gating with.
func (s *Store) Capabilities() permission.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// HistoryLengths reports the undo and redo stack sizes.
func (s *Store) HistoryLengths() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo), len(s.redo)
}

func permissionVisible(caps permission.Capabilities, pageNumber int) bool {
	return permission.Visible(caps, pageNumber)
}

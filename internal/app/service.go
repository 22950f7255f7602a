package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"bookforge/api/internal/book"
	"bookforge/api/internal/config"
	"bookforge/api/internal/document"
	"bookforge/api/internal/export"
	"bookforge/api/internal/permission"
	"bookforge/api/internal/store"
	"bookforge/api/internal/util"
)

// dataStore is the persistence surface the service consumes: the book
// load/save providers and the role provider.
type dataStore interface {
	GetBook(ctx context.Context, bookID string) (store.BookRecord, error)
	SaveBook(ctx context.Context, rec store.BookRecord) (time.Time, error)
	GetBookFriend(ctx context.Context, bookID, userID string) (store.BookFriend, error)
	ListBookFriends(ctx context.Context, bookID string) ([]store.BookFriend, error)
	UpsertBookFriend(ctx context.Context, f store.BookFriend) error
	Ping(ctx context.Context) error
}

// artifactStore streams and removes rendered exports.
type artifactStore interface {
	Get(ctx context.Context, exportID string) (io.ReadCloser, error)
	Delete(ctx context.Context, exportID string) error
}

// waker nudges the export worker after a submission.
type waker interface {
	Wake()
}

// Service hosts editing sessions and fronts the export job manager.
type Service struct {
	cfg       config.Config
	store     dataStore
	exports   *export.Service
	artifacts artifactStore
	worker    waker

	sessions *sessionRegistry
	newID    func() string
}

func New(cfg config.Config, ds dataStore, exports *export.Service, artifacts artifactStore, worker waker) *Service {
	return &Service{
		cfg:       cfg,
		store:     ds,
		exports:   exports,
		artifacts: artifacts,
		worker:    worker,
		sessions:  newSessionRegistry(),
		newID:     func() string { return util.NewID("ses") },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- editing sessions ----

// SessionView is the editor bootstrap payload.
type SessionView struct {
	SessionID    string                  `json:"sessionId"`
	Book         *book.Book              `json:"book,omitempty"`
	Capabilities permission.Capabilities `json:"capabilities"`
	FormOnly     bool                    `json:"formOnly"`
	// Denied marks a mutation that was rejected as a no-op by the
	// permission gate.
	Denied     bool `json:"denied,omitempty"`
	ActivePage int  `json:"activePage"`
	UndoDepth  int  `json:"undoDepth"`
	RedoDepth  int  `json:"redoDepth"`
}

// OpenBook loads the book and collaborator roster, resolves the
// caller's capabilities once for the initial navigation, and starts an
// editing session. A form-only collaborator receives a redirect signal
// instead of a session.
func (s *Service) OpenBook(ctx context.Context, userID, bookID string) (SessionView, error) {
	rec, err := s.store.GetBook(ctx, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionView{}, domainError(http.StatusNotFound, "BOOK_NOT_FOUND", "Book not found", nil)
	}
	if err != nil {
		return SessionView{}, fmt.Errorf("load book: %w", err)
	}

	var b book.Book
	if err := json.Unmarshal(rec.Doc, &b); err != nil {
		return SessionView{}, fmt.Errorf("decode book: %w", err)
	}

	grant, err := s.resolveGrant(ctx, &b, bookID, userID)
	if err != nil {
		return SessionView{}, err
	}

	caps := permission.Resolve(grant, b.PageNumbers(), 1)
	if caps.FormOnly {
		return SessionView{FormOnly: true}, nil
	}
	if !caps.CanAccessEditor {
		return SessionView{}, domainError(http.StatusForbidden, "FORBIDDEN", "No editor access to this book", nil)
	}

	doc := document.NewStore()
	if s.cfg.UndoDepth > 0 {
		doc.SetHistoryDepth(s.cfg.UndoDepth)
	}
	doc.Replace(&b, caps)

	session := &editSession{
		ID:     s.newID(),
		UserID: userID,
		BookID: bookID,
		Grant:  grant,
		Doc:    doc,
	}
	s.sessions.put(session)
	return s.view(session), nil
}

// resolveGrant is the role-provider lookup. The book owner without a
// friend row still owns the book; site admins are configured, not
// stored per book.
func (s *Service) resolveGrant(ctx context.Context, b *book.Book, bookID, userID string) (permission.Grant, error) {
	if s.cfg.IsAdmin(userID) {
		return permission.Grant{
			Role:        permission.RoleAdmin,
			Interaction: permission.InteractionFullEditSettings,
			PageAccess:  permission.AccessAllPages,
		}, nil
	}

	friend, err := s.store.GetBookFriend(ctx, bookID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		if b.OwnerID == userID {
			return permission.Grant{
				Role:        permission.RoleOwner,
				Interaction: permission.InteractionFullEditSettings,
				PageAccess:  permission.AccessAllPages,
			}, nil
		}
		return permission.Grant{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not a collaborator on this book", nil)
	}
	if err != nil {
		return permission.Grant{}, fmt.Errorf("load role: %w", err)
	}

	grant := permission.Grant{
		Role:        permission.NormalizeRole(friend.BookRole),
		Interaction: permission.NormalizeInteraction(friend.InteractionLevel),
		PageAccess:  permission.NormalizePageAccess(friend.PageAccessLevel),
	}
	if grant.Role == permission.RoleAuthor {
		grant.AssignedPages = b.AssignedPageNumbers(userID)
	}
	return grant, nil
}

// MutationInput is the transport form of a document mutation, a tagged
// variant decoded into one command.
type MutationInput struct {
	Type        string                `json:"type"`
	PageNumber  int                   `json:"pageNumber,omitempty"`
	Element     *book.Element         `json:"element,omitempty"`
	ElementID   string                `json:"elementId,omitempty"`
	Page        *book.Page            `json:"page,omitempty"`
	Template    *book.Template        `json:"template,omitempty"`
	Palette     *book.ColorPalette    `json:"palette,omitempty"`
	Assignments []book.PageAssignment `json:"assignments,omitempty"`
}

// Mutate dispatches one mutation into the session's document store.
// Permission-rejected mutations are reported as denied, not failed.
func (s *Service) Mutate(ctx context.Context, userID, sessionID string, input MutationInput) (SessionView, error) {
	session, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return SessionView{}, err
	}
	cmd, err := s.buildCommand(session, input)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.Doc.Dispatch(cmd); err != nil {
		if errors.Is(err, document.ErrAccessDenied) {
			// The mutation was a no-op; surface the denial as a signal
			// on the view instead of an error.
			view := s.view(session)
			view.Denied = true
			return view, nil
		}
		return SessionView{}, domainError(http.StatusUnprocessableEntity, "MUTATION_FAILED", err.Error(), nil)
	}
	return s.view(session), nil
}

func (s *Service) buildCommand(session *editSession, input MutationInput) (document.Command, error) {
	switch input.Type {
	case "add_page":
		page := book.Page{}
		if input.Page != nil {
			page = *input.Page
		}
		if page.ID == "" {
			page.ID = util.NewID("page")
		}
		return document.AddPage{Number: input.PageNumber, Page: page}, nil
	case "delete_page":
		return document.DeletePage{Number: input.PageNumber}, nil
	case "add_element":
		if input.Element == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "element is required", nil)
		}
		element := *input.Element
		if element.ID == "" {
			element.ID = util.NewID("el")
		}
		return document.AddElement{PageNumber: input.PageNumber, Element: element, Index: -1}, nil
	case "update_element":
		if input.Element == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "element is required", nil)
		}
		return document.UpdateElement{PageNumber: input.PageNumber, Element: *input.Element}, nil
	case "delete_element":
		return document.DeleteElement{PageNumber: input.PageNumber, ElementID: input.ElementID}, nil
	case "apply_template":
		if input.Template == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "template is required", nil)
		}
		return document.ApplyTemplate{PageNumber: input.PageNumber, Template: *input.Template}, nil
	case "apply_palette":
		if input.Palette == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "palette is required", nil)
		}
		return document.ApplyPalette{PageNumber: input.PageNumber, Palette: *input.Palette}, nil
	case "set_assignments":
		return document.SetAssignments{Assignments: input.Assignments}, nil
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown mutation type %q", input.Type), nil)
	}
}

// Navigate moves the active page and recomputes capabilities for the
// new position. Requests outside the visible set clamp silently.
func (s *Service) Navigate(ctx context.Context, userID, sessionID string, pageNumber int) (SessionView, error) {
	session, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.Doc.Dispatch(document.SetActivePage{Number: pageNumber}); err != nil {
		return SessionView{}, err
	}
	snapshot := session.Doc.Snapshot()
	caps := permission.Resolve(session.Grant, snapshot.PageNumbers(), session.Doc.ActivePage())
	session.Doc.SetCapabilities(caps)
	return s.view(session), nil
}

// Undo reverts the latest mutation; a boundary no-op returns the
// unchanged view.
func (s *Service) Undo(ctx context.Context, userID, sessionID string) (SessionView, error) {
	session, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.Doc.Undo(); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// Redo re-applies the latest undone mutation.
func (s *Service) Redo(ctx context.Context, userID, sessionID string) (SessionView, error) {
	session, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.Doc.Redo(); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// Save persists the session's current book. Last write wins: the save
// overwrites whatever is stored, and the returned timestamp lets the
// client surface staleness. Undo history survives a failed save, so
// the caller can simply retry.
func (s *Service) Save(ctx context.Context, userID, sessionID string) (time.Time, error) {
	session, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return time.Time{}, err
	}
	snapshot := session.Doc.Snapshot()
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode book: %w", err)
	}
	return s.store.SaveBook(ctx, store.BookRecord{
		ID:      snapshot.ID,
		Name:    snapshot.Name,
		OwnerID: snapshot.OwnerID,
		Doc:     doc,
	})
}

// Close discards the session and its local undo history.
func (s *Service) Close(userID, sessionID string) error {
	if _, err := s.sessions.get(sessionID, userID); err != nil {
		return err
	}
	s.sessions.delete(sessionID)
	return nil
}

func (s *Service) view(session *editSession) SessionView {
	undoDepth, redoDepth := session.Doc.HistoryLengths()
	return SessionView{
		SessionID:    session.ID,
		Book:         session.Doc.Snapshot(),
		Capabilities: session.Doc.Capabilities(),
		ActivePage:   session.Doc.ActivePage(),
		UndoDepth:    undoDepth,
		RedoDepth:    redoDepth,
	}
}

// ---- exports ----

// CreateExport validates and submits an export against the last-saved
// snapshot, then wakes the worker. The created pending job returns
// immediately; rendering never blocks the caller.
func (s *Service) CreateExport(ctx context.Context, userID string, req export.Request) (store.ExportJob, error) {
	role, err := s.exportRole(ctx, req.BookID, userID)
	if err != nil {
		return store.ExportJob{}, err
	}
	job, err := s.exports.Create(ctx, userID, role, req)
	var invalid *export.ValidationError
	if errors.As(err, &invalid) {
		return store.ExportJob{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Message, map[string]string{"field": invalid.Field})
	}
	if errors.Is(err, export.ErrTooManyExports) {
		return store.ExportJob{}, domainError(http.StatusConflict, "EXPORT_LIMIT", "Too many exports in flight for this book", nil)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ExportJob{}, domainError(http.StatusNotFound, "BOOK_NOT_FOUND", "Book not found", nil)
	}
	if err != nil {
		return store.ExportJob{}, err
	}
	if s.worker != nil {
		s.worker.Wake()
	}
	return job, nil
}

func (s *Service) exportRole(ctx context.Context, bookID, userID string) (permission.Role, error) {
	if s.cfg.IsAdmin(userID) {
		return permission.RoleAdmin, nil
	}
	friend, err := s.store.GetBookFriend(ctx, bookID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		rec, recErr := s.store.GetBook(ctx, bookID)
		if recErr == nil && rec.OwnerID == userID {
			return permission.RoleOwner, nil
		}
		if errors.Is(recErr, sql.ErrNoRows) {
			return "", domainError(http.StatusNotFound, "BOOK_NOT_FOUND", "Book not found", nil)
		}
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Not a collaborator on this book", nil)
	}
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}
	return permission.NormalizeRole(friend.BookRole), nil
}

// ListExports returns a book's jobs, newest first. Only collaborators
// see the list.
func (s *Service) ListExports(ctx context.Context, userID, bookID string) ([]store.ExportJob, error) {
	if _, err := s.exportRole(ctx, bookID, userID); err != nil {
		return nil, err
	}
	return s.exports.List(ctx, bookID)
}

// DownloadExport streams a completed artifact to a collaborator of the
// job's book. Jobs in any other state conflict.
func (s *Service) DownloadExport(ctx context.Context, userID, exportID string) (store.ExportJob, io.ReadCloser, error) {
	job, err := s.getExportJobAs(ctx, userID, exportID)
	if err != nil {
		return store.ExportJob{}, nil, err
	}
	if job.Status != store.JobCompleted {
		return store.ExportJob{}, nil, domainError(http.StatusConflict, "EXPORT_NOT_READY", fmt.Sprintf("Export is %s", job.Status), nil)
	}
	reader, err := s.artifacts.Get(ctx, exportID)
	if err != nil {
		return store.ExportJob{}, nil, domainError(http.StatusNotFound, "ARTIFACT_MISSING", "Export artifact unavailable", nil)
	}
	return job, reader, nil
}

// DeleteExport removes the job record and its stored artifact. Allowed
// for the job's requester, the book owner, or an admin.
func (s *Service) DeleteExport(ctx context.Context, userID, exportID string) error {
	job, err := s.getExportJobAs(ctx, userID, exportID)
	if err != nil {
		return err
	}
	if job.UserID != userID {
		role, err := s.exportRole(ctx, job.BookID, userID)
		if err != nil {
			return err
		}
		if role != permission.RoleOwner && role != permission.RoleAdmin {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Only the requester, the book owner or an admin may delete an export", nil)
		}
	}
	if err := s.artifacts.Delete(ctx, exportID); err != nil {
		return err
	}
	return s.exports.Delete(ctx, exportID)
}

// getExportJobAs loads a job and verifies the caller collaborates on
// its book.
func (s *Service) getExportJobAs(ctx context.Context, userID, exportID string) (store.ExportJob, error) {
	job, err := s.exports.Get(ctx, exportID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ExportJob{}, domainError(http.StatusNotFound, "EXPORT_NOT_FOUND", "Export not found", nil)
	}
	if err != nil {
		return store.ExportJob{}, err
	}
	if _, err := s.exportRole(ctx, job.BookID, userID); err != nil {
		return store.ExportJob{}, err
	}
	return job, nil
}

// ---- collaborator roster ----

// ListCollaborators returns the book's roster. Reading the roster
// requires settings access, same as changing it.
func (s *Service) ListCollaborators(ctx context.Context, userID, bookID string) ([]store.BookFriend, error) {
	if err := s.requireSettings(ctx, userID, bookID); err != nil {
		return nil, err
	}
	return s.store.ListBookFriends(ctx, bookID)
}

// SetCollaborator creates or updates one roster entry. Role strings are
// normalized, so an unknown value lands on the least privileged level.
func (s *Service) SetCollaborator(ctx context.Context, userID, bookID string, entry store.BookFriend) (store.BookFriend, error) {
	if err := s.requireSettings(ctx, userID, bookID); err != nil {
		return store.BookFriend{}, err
	}
	if entry.UserID == "" {
		return store.BookFriend{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", map[string]string{"field": "userId"})
	}
	entry.BookID = bookID
	entry.BookRole = string(permission.NormalizeRole(entry.BookRole))
	entry.PageAccessLevel = string(permission.NormalizePageAccess(entry.PageAccessLevel))
	entry.InteractionLevel = string(permission.NormalizeInteraction(entry.InteractionLevel))
	if err := s.store.UpsertBookFriend(ctx, entry); err != nil {
		return store.BookFriend{}, fmt.Errorf("save collaborator: %w", err)
	}
	return entry, nil
}

func (s *Service) requireSettings(ctx context.Context, userID, bookID string) error {
	rec, err := s.store.GetBook(ctx, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "BOOK_NOT_FOUND", "Book not found", nil)
	}
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	var b book.Book
	if err := json.Unmarshal(rec.Doc, &b); err != nil {
		return fmt.Errorf("decode book: %w", err)
	}
	grant, err := s.resolveGrant(ctx, &b, bookID, userID)
	if err != nil {
		return err
	}
	caps := permission.Resolve(grant, b.PageNumbers(), 1)
	if !caps.CanManageSettings {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Managing collaborators requires settings access", nil)
	}
	return nil
}

// ---- session registry ----

type editSession struct {
	ID     string
	UserID string
	BookID string
	Grant  permission.Grant
	Doc    *document.Store
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*editSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*editSession)}
}

func (r *sessionRegistry) put(session *editSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
}

// get resolves a session for its owner. A session id belonging to
// another user reads as absent, so ids never act as bearer tokens.
func (r *sessionRegistry) get(id, userID string) (*editSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.UserID != userID {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Editing session not found", nil)
	}
	return session, nil
}

func (r *sessionRegistry) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bookforge/api/internal/book"
	"bookforge/api/internal/permission"
	"bookforge/api/internal/store"
	"bookforge/api/internal/util"
)

// JobStore is the persistence surface the manager needs.
type JobStore interface {
	GetBook(ctx context.Context, bookID string) (store.BookRecord, error)
	InsertExportJob(ctx context.Context, job store.ExportJob) error
	GetExportJob(ctx context.Context, id string) (store.ExportJob, error)
	ListExportJobs(ctx context.Context, bookID string) ([]store.ExportJob, error)
	DeleteExportJob(ctx context.Context, id string) error
	InFlightExportCount(ctx context.Context, bookID string) (int, error)
}

// MaxInFlightPerBook caps pending+processing jobs per book so a single
// book cannot monopolize the render worker.
const MaxInFlightPerBook = 5

// ErrTooManyExports rejects a submission while the per-book in-flight
// cap is reached.
var ErrTooManyExports = errors.New("export: too many exports in flight for this book")

// Service validates export requests and creates pending job rows.
// Rendering happens later in the worker; Create never blocks on it.
type Service struct {
	store JobStore
	newID func() string
}

func NewService(store JobStore) *Service {
	return &Service{
		store: store,
		newID: func() string { return util.NewID("exp") },
	}
}

// Create validates the request against the caller's role and the
// last-saved book snapshot, then synchronously inserts a pending job
// and returns it. Validation failures create no row.
func (s *Service) Create(ctx context.Context, userID string, role permission.Role, req Request) (store.ExportJob, error) {
	if !qualityAllowed(role, req.Quality) {
		if req.Quality.DPI() == 0 {
			return store.ExportJob{}, &ValidationError{Field: "quality", Message: fmt.Sprintf("unknown quality %q", req.Quality)}
		}
		return store.ExportJob{}, &ValidationError{Field: "quality", Message: fmt.Sprintf("quality %q not permitted for role %q", req.Quality, role)}
	}

	rec, err := s.store.GetBook(ctx, req.BookID)
	if err != nil {
		return store.ExportJob{}, fmt.Errorf("load book: %w", err)
	}
	pageCount, err := countPages(rec.Doc)
	if err != nil {
		return store.ExportJob{}, fmt.Errorf("decode book: %w", err)
	}

	switch req.PageRange {
	case RangeAll:
	case RangeCurrent:
		if req.CurrentPage < 1 || req.CurrentPage > pageCount {
			return store.ExportJob{}, &ValidationError{Field: "currentPage", Message: fmt.Sprintf("page %d outside 1..%d", req.CurrentPage, pageCount)}
		}
	case RangeSpan:
		if req.StartPage < 1 {
			return store.ExportJob{}, &ValidationError{Field: "startPage", Message: "startPage must be at least 1"}
		}
		if req.EndPage < req.StartPage {
			return store.ExportJob{}, &ValidationError{Field: "endPage", Message: "endPage must not precede startPage"}
		}
		if req.EndPage > pageCount {
			return store.ExportJob{}, &ValidationError{Field: "endPage", Message: fmt.Sprintf("endPage %d exceeds page count %d", req.EndPage, pageCount)}
		}
	default:
		return store.ExportJob{}, &ValidationError{Field: "pageRange", Message: fmt.Sprintf("unknown page range %q", req.PageRange)}
	}

	inFlight, err := s.store.InFlightExportCount(ctx, req.BookID)
	if err != nil {
		return store.ExportJob{}, fmt.Errorf("count in-flight exports: %w", err)
	}
	if inFlight >= MaxInFlightPerBook {
		return store.ExportJob{}, ErrTooManyExports
	}

	job := store.ExportJob{
		ID:        s.newID(),
		BookID:    req.BookID,
		UserID:    userID,
		Status:    store.JobPending,
		Quality:   string(req.Quality),
		PageRange: string(req.PageRange),
	}
	switch req.PageRange {
	case RangeSpan:
		job.StartPage, job.EndPage = req.StartPage, req.EndPage
	case RangeCurrent:
		job.StartPage, job.EndPage = req.CurrentPage, req.CurrentPage
	}
	if err := s.store.InsertExportJob(ctx, job); err != nil {
		return store.ExportJob{}, err
	}
	return s.store.GetExportJob(ctx, job.ID)
}

// List returns a book's jobs, newest first.
func (s *Service) List(ctx context.Context, bookID string) ([]store.ExportJob, error) {
	return s.store.ListExportJobs(ctx, bookID)
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, id string) (store.ExportJob, error) {
	return s.store.GetExportJob(ctx, id)
}

// Delete removes the job row. The caller is responsible for removing
// the stored artifact alongside.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteExportJob(ctx, id)
}

func countPages(doc []byte) (int, error) {
	var b book.Book
	if err := json.Unmarshal(doc, &b); err != nil {
		return 0, err
	}
	return len(b.Pages), nil
}

func decodeBook(doc []byte) (*book.Book, error) {
	var b book.Book
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

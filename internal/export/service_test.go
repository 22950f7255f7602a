package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"bookforge/api/internal/book"
	"bookforge/api/internal/permission"
	"bookforge/api/internal/store"
)

type fakeJobStore struct {
	getBookFn         func(context.Context, string) (store.BookRecord, error)
	insertExportJobFn func(context.Context, store.ExportJob) error
	getExportJobFn    func(context.Context, string) (store.ExportJob, error)
	listExportJobsFn  func(context.Context, string) ([]store.ExportJob, error)
	deleteExportJobFn func(context.Context, string) error
	inFlightCountFn   func(context.Context, string) (int, error)

	inserted []store.ExportJob
}

func (f *fakeJobStore) GetBook(ctx context.Context, bookID string) (store.BookRecord, error) {
	if f.getBookFn != nil {
		return f.getBookFn(ctx, bookID)
	}
	return store.BookRecord{}, sql.ErrNoRows
}

func (f *fakeJobStore) InsertExportJob(ctx context.Context, job store.ExportJob) error {
	f.inserted = append(f.inserted, job)
	if f.insertExportJobFn != nil {
		return f.insertExportJobFn(ctx, job)
	}
	return nil
}

func (f *fakeJobStore) GetExportJob(ctx context.Context, id string) (store.ExportJob, error) {
	if f.getExportJobFn != nil {
		return f.getExportJobFn(ctx, id)
	}
	for _, j := range f.inserted {
		if j.ID == id {
			return j, nil
		}
	}
	return store.ExportJob{}, sql.ErrNoRows
}

func (f *fakeJobStore) ListExportJobs(ctx context.Context, bookID string) ([]store.ExportJob, error) {
	if f.listExportJobsFn != nil {
		return f.listExportJobsFn(ctx, bookID)
	}
	return nil, nil
}

func (f *fakeJobStore) DeleteExportJob(ctx context.Context, id string) error {
	if f.deleteExportJobFn != nil {
		return f.deleteExportJobFn(ctx, id)
	}
	return nil
}

func (f *fakeJobStore) InFlightExportCount(ctx context.Context, bookID string) (int, error) {
	if f.inFlightCountFn != nil {
		return f.inFlightCountFn(ctx, bookID)
	}
	return 0, nil
}

func bookRecord(t *testing.T, pageCount int) store.BookRecord {
	t.Helper()
	b := book.Book{ID: "book_1", Name: "Yearbook", PageSize: book.SizeA4, Orientation: book.OrientationPortrait}
	for i := 1; i <= pageCount; i++ {
		b.Pages = append(b.Pages, book.Page{ID: "p", Number: i})
	}
	doc, err := json.Marshal(&b)
	if err != nil {
		t.Fatal(err)
	}
	return store.BookRecord{ID: b.ID, Name: b.Name, Doc: doc}
}

func serviceWithBook(t *testing.T, pageCount int) (*Service, *fakeJobStore) {
	t.Helper()
	rec := bookRecord(t, pageCount)
	fs := &fakeJobStore{
		getBookFn: func(context.Context, string) (store.BookRecord, error) { return rec, nil },
	}
	return NewService(fs), fs
}

func TestCreatePendingJob(t *testing.T) {
	svc, fs := serviceWithBook(t, 4)
	job, err := svc.Create(context.Background(), "user_1", permission.RoleOwner, Request{
		BookID:    "book_1",
		Quality:   QualityPrinting,
		PageRange: RangeAll,
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.JobPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if len(fs.inserted) != 1 {
		t.Fatalf("inserted %d rows", len(fs.inserted))
	}
	if job.ID == "" {
		t.Error("job id missing")
	}
}

func TestAuthorCannotRequestPrintingQuality(t *testing.T) {
	svc, fs := serviceWithBook(t, 4)
	_, err := svc.Create(context.Background(), "user_1", permission.RoleAuthor, Request{
		BookID:    "book_1",
		Quality:   QualityPrinting,
		PageRange: RangeAll,
	})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if invalid.Field != "quality" {
		t.Errorf("field = %q", invalid.Field)
	}
	if len(fs.inserted) != 0 {
		t.Error("job row created despite rejection")
	}
}

func TestExcellentQualityIsAdminOnly(t *testing.T) {
	svc, _ := serviceWithBook(t, 2)
	for _, role := range []permission.Role{permission.RoleOwner, permission.RolePublisher, permission.RoleAuthor} {
		_, err := svc.Create(context.Background(), "u", role, Request{BookID: "book_1", Quality: QualityExcellent, PageRange: RangeAll})
		var invalid *ValidationError
		if !errors.As(err, &invalid) {
			t.Errorf("role %s: err = %v, want ValidationError", role, err)
		}
	}
	if _, err := svc.Create(context.Background(), "u", permission.RoleAdmin, Request{BookID: "book_1", Quality: QualityExcellent, PageRange: RangeAll}); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
}

func TestRangeEndBeyondPageCountRejected(t *testing.T) {
	// 4-page book, range 2..5: endPage exceeds the page count.
	svc, fs := serviceWithBook(t, 4)
	_, err := svc.Create(context.Background(), "user_1", permission.RoleOwner, Request{
		BookID:    "book_1",
		Quality:   QualityMedium,
		PageRange: RangeSpan,
		StartPage: 2,
		EndPage:   5,
	})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if invalid.Field != "endPage" {
		t.Errorf("field = %q", invalid.Field)
	}
	if len(fs.inserted) != 0 {
		t.Error("job row created despite invalid range")
	}
}

func TestRangeValidationBounds(t *testing.T) {
	svc, _ := serviceWithBook(t, 4)
	cases := []struct {
		name       string
		start, end int
		ok         bool
	}{
		{"valid span", 2, 4, true},
		{"single page", 3, 3, true},
		{"zero start", 0, 2, false},
		{"inverted", 3, 2, false},
	}
	for _, tc := range cases {
		_, err := svc.Create(context.Background(), "u", permission.RoleOwner, Request{
			BookID: "book_1", Quality: QualityMedium, PageRange: RangeSpan, StartPage: tc.start, EndPage: tc.end,
		})
		var invalid *ValidationError
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.As(err, &invalid) {
			t.Errorf("%s: err = %v, want ValidationError", tc.name, err)
		}
	}
}

func TestCurrentPageRangeValidated(t *testing.T) {
	svc, _ := serviceWithBook(t, 3)
	if _, err := svc.Create(context.Background(), "u", permission.RoleOwner, Request{
		BookID: "book_1", Quality: QualityPreview, PageRange: RangeCurrent, CurrentPage: 2,
	}); err != nil {
		t.Fatalf("valid current page rejected: %v", err)
	}
	_, err := svc.Create(context.Background(), "u", permission.RoleOwner, Request{
		BookID: "book_1", Quality: QualityPreview, PageRange: RangeCurrent, CurrentPage: 7,
	})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestInFlightCapRejectsSubmission(t *testing.T) {
	svc, fs := serviceWithBook(t, 3)
	fs.inFlightCountFn = func(context.Context, string) (int, error) {
		return MaxInFlightPerBook, nil
	}
	_, err := svc.Create(context.Background(), "u", permission.RoleOwner, Request{
		BookID: "book_1", Quality: QualityPreview, PageRange: RangeAll,
	})
	if !errors.Is(err, ErrTooManyExports) {
		t.Fatalf("err = %v, want ErrTooManyExports", err)
	}
	if len(fs.inserted) != 0 {
		t.Fatal("capped submission created a job row")
	}
}

func TestUnknownQualityRejected(t *testing.T) {
	svc, _ := serviceWithBook(t, 1)
	_, err := svc.Create(context.Background(), "u", permission.RoleAdmin, Request{
		BookID: "book_1", Quality: Quality("ultra"), PageRange: RangeAll,
	})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestResolvePages(t *testing.T) {
	all := resolvePages(Request{PageRange: RangeAll}, 3)
	if len(all) != 3 || all[0] != 1 || all[2] != 3 {
		t.Errorf("all = %v", all)
	}
	span := resolvePages(Request{PageRange: RangeSpan, StartPage: 2, EndPage: 3}, 4)
	if len(span) != 2 || span[0] != 2 {
		t.Errorf("span = %v", span)
	}
	current := resolvePages(Request{PageRange: RangeCurrent, CurrentPage: 2}, 4)
	if len(current) != 1 || current[0] != 2 {
		t.Errorf("current = %v", current)
	}
}

func TestQualityDPITiers(t *testing.T) {
	tiers := map[Quality]int{
		QualityPreview:   72,
		QualityMedium:    150,
		QualityPrinting:  300,
		QualityExcellent: 600,
	}
	for q, want := range tiers {
		if got := q.DPI(); got != want {
			t.Errorf("%s dpi = %d, want %d", q, got, want)
		}
	}
}

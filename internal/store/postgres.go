package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConflict reports a conditional write that matched no row, e.g. a
// status transition attempted on a job that already moved on.
var ErrConflict = errors.New("store: conflicting state")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- book load/save providers ----

func (s *PostgresStore) GetBook(ctx context.Context, bookID string) (BookRecord, error) {
	const query = `SELECT id, name, owner_id, doc, saved_at, created_at FROM books WHERE id=$1`
	var rec BookRecord
	err := s.db.QueryRowContext(ctx, query, bookID).
		Scan(&rec.ID, &rec.Name, &rec.OwnerID, &rec.Doc, &rec.SavedAt, &rec.CreatedAt)
	if err != nil {
		return BookRecord{}, err
	}
	return rec, nil
}

// SaveBook persists the whole serialized book. Saves are last-write-wins:
// the newest save overwrites unconditionally and the returned timestamp
// lets clients surface staleness.
func (s *PostgresStore) SaveBook(ctx context.Context, rec BookRecord) (time.Time, error) {
	const query = `
		INSERT INTO books (id, name, owner_id, doc, saved_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, doc=EXCLUDED.doc, saved_at=NOW()
		RETURNING saved_at
	`
	var savedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, rec.ID, rec.Name, rec.OwnerID, rec.Doc).Scan(&savedAt); err != nil {
		return time.Time{}, fmt.Errorf("save book: %w", err)
	}
	return savedAt, nil
}

// ---- role provider (collaborator roster) ----

func (s *PostgresStore) ListBookFriends(ctx context.Context, bookID string) ([]BookFriend, error) {
	const query = `
		SELECT book_id, user_id, book_role, page_access_level, interaction_level, created_at
		FROM book_friends WHERE book_id=$1 ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("list book friends: %w", err)
	}
	defer rows.Close()

	var friends []BookFriend
	for rows.Next() {
		var f BookFriend
		if err := rows.Scan(&f.BookID, &f.UserID, &f.BookRole, &f.PageAccessLevel, &f.InteractionLevel, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan book friend: %w", err)
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

func (s *PostgresStore) GetBookFriend(ctx context.Context, bookID, userID string) (BookFriend, error) {
	const query = `
		SELECT book_id, user_id, book_role, page_access_level, interaction_level, created_at
		FROM book_friends WHERE book_id=$1 AND user_id=$2
	`
	var f BookFriend
	err := s.db.QueryRowContext(ctx, query, bookID, userID).
		Scan(&f.BookID, &f.UserID, &f.BookRole, &f.PageAccessLevel, &f.InteractionLevel, &f.CreatedAt)
	if err != nil {
		return BookFriend{}, err
	}
	return f, nil
}

// UpsertBookFriend keeps the one-row-per-(book,user) invariant via the
// primary key conflict target.
func (s *PostgresStore) UpsertBookFriend(ctx context.Context, f BookFriend) error {
	const query = `
		INSERT INTO book_friends (book_id, user_id, book_role, page_access_level, interaction_level)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (book_id, user_id) DO UPDATE SET
			book_role=EXCLUDED.book_role,
			page_access_level=EXCLUDED.page_access_level,
			interaction_level=EXCLUDED.interaction_level
	`
	_, err := s.db.ExecContext(ctx, query, f.BookID, f.UserID, f.BookRole, f.PageAccessLevel, f.InteractionLevel)
	if err != nil {
		return fmt.Errorf("upsert book friend: %w", err)
	}
	return nil
}

// ---- export jobs ----

const exportJobColumns = `id, book_id, user_id, status, quality, page_range, start_page, end_page,
	file_size, error_message, created_at, started_at, completed_at`

func scanExportJob(row interface{ Scan(...any) error }) (ExportJob, error) {
	var j ExportJob
	err := row.Scan(&j.ID, &j.BookID, &j.UserID, &j.Status, &j.Quality, &j.PageRange,
		&j.StartPage, &j.EndPage, &j.FileSize, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return ExportJob{}, err
	}
	return j, nil
}

func (s *PostgresStore) InsertExportJob(ctx context.Context, j ExportJob) error {
	const query = `
		INSERT INTO export_jobs (id, book_id, user_id, status, quality, page_range, start_page, end_page)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query, j.ID, j.BookID, j.UserID, j.Status, j.Quality, j.PageRange, j.StartPage, j.EndPage)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExportJob(ctx context.Context, id string) (ExportJob, error) {
	return scanExportJob(s.db.QueryRowContext(ctx,
		`SELECT `+exportJobColumns+` FROM export_jobs WHERE id=$1`, id))
}

func (s *PostgresStore) ListExportJobs(ctx context.Context, bookID string) ([]ExportJob, error) {
	const query = `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE book_id=$1 ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ExportJob
	for rows.Next() {
		j, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimNextExportJob atomically moves the oldest pending job to
// processing. The conditional update plus SKIP LOCKED guarantees
// at-most-one worker claims a given job. Returns sql.ErrNoRows when
// nothing is pending.
func (s *PostgresStore) ClaimNextExportJob(ctx context.Context) (ExportJob, error) {
	const query = `
		UPDATE export_jobs SET status='processing', started_at=NOW()
		WHERE id = (
			SELECT id FROM export_jobs
			WHERE status='pending'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status='pending'
		RETURNING ` + exportJobColumns
	return scanExportJob(s.db.QueryRowContext(ctx, query))
}

// CompleteExportJob finalizes a processing job. Terminal rows are
// immutable, so the write is conditional on status='processing'.
func (s *PostgresStore) CompleteExportJob(ctx context.Context, id string, fileSize int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs SET status='completed', file_size=$2, completed_at=NOW()
		WHERE id=$1 AND status='processing'
	`, id, fileSize)
	if err != nil {
		return fmt.Errorf("complete export job: %w", err)
	}
	return requireRow(result)
}

// FailExportJob terminates a processing job with a sanitized message.
func (s *PostgresStore) FailExportJob(ctx context.Context, id, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs SET status='failed', error_message=$2, completed_at=NOW()
		WHERE id=$1 AND status='processing'
	`, id, message)
	if err != nil {
		return fmt.Errorf("fail export job: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteExportJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete export job: %w", err)
	}
	return nil
}

// InFlightExportCount reports pending or processing jobs for a book.
func (s *PostgresStore) InFlightExportCount(ctx context.Context, bookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM export_jobs
		WHERE book_id=$1 AND status IN ('pending', 'processing')
	`, bookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in-flight exports: %w", err)
	}
	return count, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

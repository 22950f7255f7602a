package store

import "time"

// BookRecord is a persisted book: the aggregate serialized as a JSONB
// document plus denormalized columns for listing and lookups.
type BookRecord struct {
	ID        string
	Name      string
	OwnerID   string
	Doc       []byte
	SavedAt   time.Time
	CreatedAt time.Time
}

// BookFriend is one user's role-bound relationship to a book. Exactly
// one row exists per (book, user).
type BookFriend struct {
	BookID           string
	UserID           string
	BookRole         string
	PageAccessLevel  string
	InteractionLevel string
	CreatedAt        time.Time
}

// Export job lifecycle. Transitions are forward only and terminal
// states are immutable; every write below is conditional on the
// expected prior status.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

type ExportJob struct {
	ID           string
	BookID       string
	UserID       string
	Status       string
	Quality      string
	PageRange    string
	StartPage    int
	EndPage      int
	FileSize     int64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Terminal reports whether the job reached a final state.
func (j ExportJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

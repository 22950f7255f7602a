package export

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"bookforge/api/internal/notify"
	"bookforge/api/internal/render"
	"bookforge/api/internal/store"
)

// WorkerStore is the persistence surface the worker needs. Claiming
// must be an atomic pending→processing transition so concurrent
// workers cannot double-process a job.
type WorkerStore interface {
	GetBook(ctx context.Context, bookID string) (store.BookRecord, error)
	ClaimNextExportJob(ctx context.Context) (store.ExportJob, error)
	CompleteExportJob(ctx context.Context, id string, fileSize int64) error
	FailExportJob(ctx context.Context, id, message string) error
}

// ArtifactStore receives rendered output.
type ArtifactStore interface {
	Put(ctx context.Context, exportID string, data []byte) error
	Delete(ctx context.Context, exportID string) error
}

// Publisher pushes terminal events to the requesting user.
type Publisher interface {
	Publish(ctx context.Context, userID string, event notify.Event) error
}

// RendererFor picks a renderer for a resolution tier. Swappable for
// tests.
type RendererFor func(dpi int) render.PageRenderer

// Worker drains pending export jobs: claim, render against the
// last-saved book snapshot, store the artifact, finalize, notify.
// A job ends in exactly one terminal state; there are no retries and
// no partial artifacts.
type Worker struct {
	store     WorkerStore
	artifacts ArtifactStore
	notifier  Publisher
	renderer  RendererFor
	interval  time.Duration
	wake      chan struct{}
}

func NewWorker(ws WorkerStore, artifacts ArtifactStore, notifier Publisher, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		store:     ws,
		artifacts: artifacts,
		notifier:  notifier,
		renderer:  render.Select,
		interval:  interval,
		wake:      make(chan struct{}, 1),
	}
}

// Wake nudges the worker ahead of its next poll tick, typically right
// after a submission.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.store.ClaimNextExportJob(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		if err != nil {
			log.Printf("export worker: claim failed: %v", err)
			return
		}
		w.process(ctx, job)
	}
}

// process runs one claimed job to a terminal state.
func (w *Worker) process(ctx context.Context, job store.ExportJob) {
	bookName, err := w.renderAndStore(ctx, job)
	if err != nil {
		// Never leave a partial artifact behind a failed job.
		if cleanupErr := w.artifacts.Delete(ctx, job.ID); cleanupErr != nil {
			log.Printf("export worker: artifact cleanup for %s: %v", job.ID, cleanupErr)
		}
		message := sanitizeError(err)
		if failErr := w.store.FailExportJob(ctx, job.ID, message); failErr != nil {
			log.Printf("export worker: mark failed %s: %v", job.ID, failErr)
			return
		}
		w.publish(ctx, job, bookName, store.JobFailed, message)
		return
	}
	w.publish(ctx, job, bookName, store.JobCompleted, "")
}

func (w *Worker) renderAndStore(ctx context.Context, job store.ExportJob) (bookName string, err error) {
	rec, err := w.store.GetBook(ctx, job.BookID)
	if err != nil {
		return "", err
	}
	bookName = rec.Name

	b, err := decodeBook(rec.Doc)
	if err != nil {
		return bookName, err
	}

	req := Request{
		BookID:      job.BookID,
		Quality:     Quality(job.Quality),
		PageRange:   RangeKind(job.PageRange),
		StartPage:   job.StartPage,
		EndPage:     job.EndPage,
		CurrentPage: job.StartPage,
	}
	pages := resolvePages(req, len(b.Pages))

	data, err := w.renderer(req.Quality.DPI()).Render(ctx, b, pages, req.Quality.DPI())
	if err != nil {
		return bookName, err
	}
	if err := w.artifacts.Put(ctx, job.ID, data); err != nil {
		return bookName, err
	}
	if err := w.store.CompleteExportJob(ctx, job.ID, int64(len(data))); err != nil {
		return bookName, err
	}
	return bookName, nil
}

func (w *Worker) publish(ctx context.Context, job store.ExportJob, bookName, status, message string) {
	event := notify.Event{
		ExportID: job.ID,
		BookID:   job.BookID,
		BookName: bookName,
		Status:   status,
		Error:    message,
	}
	// Best effort: polling is the delivery fallback.
	if err := w.notifier.Publish(ctx, job.UserID, event); err != nil {
		log.Printf("export worker: publish %s: %v", job.ID, err)
	}
}

// sanitizeError reduces internal render errors to a short single-line
// message safe to show the requesting user.
func sanitizeError(err error) string {
	message := err.Error()
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	message = strings.TrimSpace(message)
	if len(message) > 200 {
		message = message[:200]
	}
	if message == "" {
		message = "rendering failed"
	}
	return message
}

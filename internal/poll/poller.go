// Package poll is the client-side export status watcher. It polls the
// job list at a fixed interval while any job for the open book is in
// flight, and stops once every job is terminal. Push events only speed
// it up: polling alone guarantees eventual visibility of terminal
// status.
package poll

import (
	"context"
	"log"
	"sync"
	"time"

	"bookforge/api/internal/notify"
	"bookforge/api/internal/store"
)

// JobLister fetches the current job list for a book, newest first.
type JobLister interface {
	ListExportJobs(ctx context.Context, bookID string) ([]store.ExportJob, error)
}

// Poller watches one book's export jobs.
type Poller struct {
	lister   JobLister
	interval time.Duration
	onUpdate func([]store.ExportJob)

	mu      sync.Mutex
	cancel  context.CancelFunc
	refresh chan struct{}
}

// New creates a poller. onUpdate receives every fetched job list,
// including the final one in which no job is in flight.
func New(lister JobLister, interval time.Duration, onUpdate func([]store.ExportJob)) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		lister:   lister,
		interval: interval,
		onUpdate: onUpdate,
		refresh:  make(chan struct{}, 1),
	}
}

// Start begins polling for the book. A previous watch is stopped first.
// Polling ends on its own when no job is pending or processing.
func (p *Poller) Start(ctx context.Context, bookID string) {
	p.Stop()
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	go p.run(ctx, bookID)
}

// Stop halts the current watch, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Notify feeds a push event into the poller. Events for terminal
// status trigger an immediate refresh instead of waiting out the
// interval.
func (p *Poller) Notify(event notify.Event) {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context, bookID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		inFlight, err := p.poll(ctx, bookID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient fetch errors: keep polling, the next tick may
			// succeed.
			log.Printf("export poller: %v", err)
		} else if !inFlight {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refresh:
		}
	}
}

func (p *Poller) poll(ctx context.Context, bookID string) (inFlight bool, err error) {
	jobs, err := p.lister.ListExportJobs(ctx, bookID)
	if err != nil {
		return true, err
	}
	if p.onUpdate != nil {
		p.onUpdate(jobs)
	}
	for _, j := range jobs {
		if !j.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookforge/api/internal/notify"
	"bookforge/api/internal/store"
)

type fakeLister struct {
	mu    sync.Mutex
	lists [][]store.ExportJob
	calls int
}

func (f *fakeLister) ListExportJobs(ctx context.Context, bookID string) ([]store.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.lists) == 0 {
		return nil, nil
	}
	jobs := f.lists[0]
	if len(f.lists) > 1 {
		f.lists = f.lists[1:]
	}
	return jobs, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func job(id, status string) store.ExportJob {
	return store.ExportJob{ID: id, BookID: "book_1", Status: status}
}

func collectUpdates(t *testing.T, lister *fakeLister, interval time.Duration) (*Poller, <-chan []store.ExportJob) {
	t.Helper()
	updates := make(chan []store.ExportJob, 16)
	p := New(lister, interval, func(jobs []store.ExportJob) {
		updates <- jobs
	})
	t.Cleanup(p.Stop)
	return p, updates
}

func TestPollerStopsWhenAllJobsTerminal(t *testing.T) {
	lister := &fakeLister{lists: [][]store.ExportJob{
		{job("exp_1", store.JobProcessing)},
		{job("exp_1", store.JobCompleted)},
	}}
	p, updates := collectUpdates(t, lister, 10*time.Millisecond)

	p.Start(context.Background(), "book_1")

	var last []store.ExportJob
	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case last = <-updates:
		case <-deadline:
			t.Fatal("poller never delivered updates")
		}
	}
	if last[0].Status != store.JobCompleted {
		t.Fatalf("final status = %q, want completed", last[0].Status)
	}

	// Terminal list ends the watch; call count must settle.
	time.Sleep(60 * time.Millisecond)
	settled := lister.callCount()
	time.Sleep(60 * time.Millisecond)
	if got := lister.callCount(); got != settled {
		t.Fatalf("poller kept polling after all jobs terminal: %d -> %d calls", settled, got)
	}
}

func TestPollerNotifyTriggersImmediateRefresh(t *testing.T) {
	lister := &fakeLister{lists: [][]store.ExportJob{
		{job("exp_1", store.JobPending)},
		{job("exp_1", store.JobCompleted)},
	}}
	// Long interval so only a push event can produce the second fetch
	// within the test window.
	p, updates := collectUpdates(t, lister, time.Minute)

	p.Start(context.Background(), "book_1")

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial update")
	}

	p.Notify(notify.Event{ExportID: "exp_1", Status: store.JobCompleted})

	select {
	case jobs := <-updates:
		if jobs[0].Status != store.JobCompleted {
			t.Fatalf("status after refresh = %q", jobs[0].Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push event did not trigger a refresh")
	}
}

func TestPollerStopHaltsWatch(t *testing.T) {
	lister := &fakeLister{lists: [][]store.ExportJob{
		{job("exp_1", store.JobPending)},
	}}
	p, updates := collectUpdates(t, lister, 10*time.Millisecond)

	p.Start(context.Background(), "book_1")
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial update")
	}
	p.Stop()

	time.Sleep(60 * time.Millisecond)
	settled := lister.callCount()
	time.Sleep(60 * time.Millisecond)
	if got := lister.callCount(); got != settled {
		t.Fatalf("poller kept polling after Stop: %d -> %d calls", settled, got)
	}
}

func TestPollerRestartReplacesWatch(t *testing.T) {
	lister := &fakeLister{lists: [][]store.ExportJob{
		{job("exp_1", store.JobCompleted)},
	}}
	p, updates := collectUpdates(t, lister, 10*time.Millisecond)

	p.Start(context.Background(), "book_1")
	p.Start(context.Background(), "book_1")

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted poller delivered nothing")
	}
}

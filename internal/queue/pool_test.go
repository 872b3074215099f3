package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

func TestPoolProcessesJobs(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	done := make(chan string, 4)
	pool := NewPool(b, domain.QueuePhash, 2, 10*time.Millisecond, func(ctx context.Context, job *domain.Job, report ProgressFunc) error {
		processed.Add(1)
		done <- job.ID
		return nil
	})

	for _, id := range []string{"phash-1", "phash-2", "phash-3"} {
		if err := b.Enqueue(ctx, domain.QueuePhash, id, ""); err != nil {
			t.Fatal(err)
		}
	}

	go pool.Run(ctx)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, processed %d jobs", processed.Load())
		}
	}
	if len(seen) != 3 {
		t.Errorf("processed %d distinct jobs, want 3", len(seen))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := b.Counts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if counts[domain.QueuePhash].Completed == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("jobs never marked completed")
}

func TestPoolRecoversFromPanic(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 8)
	pool := NewPool(b, domain.QueueScan, 1, 10*time.Millisecond, func(ctx context.Context, job *domain.Job, report ProgressFunc) error {
		calls <- struct{}{}
		if job.ID == "scan-bad" {
			panic("handler exploded")
		}
		return nil
	})

	if err := b.Enqueue(ctx, domain.QueueScan, "scan-bad", ""); err != nil {
		t.Fatal(err)
	}
	if err := b.Enqueue(ctx, domain.QueueScan, "scan-good", ""); err != nil {
		t.Fatal(err)
	}

	go pool.Run(ctx)

	// The panicking job must not kill the worker; the good job still runs.
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("worker died after panic")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var bad domain.Job
		if err := b.db.First(&bad, "id = ?", "scan-bad").Error; err != nil {
			t.Fatal(err)
		}
		// Panic is recorded as a failure: retried with backoff.
		if bad.Status == domain.JobStatusWaiting && bad.LastError != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("panicking job never recorded as failed attempt")
}

func TestPoolReportsFailure(t *testing.T) {
	b := NewBroker(newTestDB(t), NewBus(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	pool := NewPool(b, domain.QueueEmbedding, 1, 10*time.Millisecond, func(ctx context.Context, job *domain.Job, report ProgressFunc) error {
		handled <- struct{}{}
		return errors.New("no sidecar")
	})

	if err := b.Enqueue(ctx, domain.QueueEmbedding, "embedding-1", ""); err != nil {
		t.Fatal(err)
	}
	go pool.Run(ctx)

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("job never handled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := b.Counts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if counts[domain.QueueEmbedding].Failed == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never marked terminally failed")
}

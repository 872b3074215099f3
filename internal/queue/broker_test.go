package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	return NewBroker(newTestDB(t), NewBus(), 3)
}

func TestEnqueueDedup(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Enqueue(ctx, domain.QueueScan, "scan-1", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Same ID while waiting: no-op.
	if err := b.Enqueue(ctx, domain.QueueScan, "scan-1", ""); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}

	counts, err := b.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if got := counts[domain.QueueScan].Waiting; got != 1 {
		t.Errorf("waiting = %d, want 1", got)
	}

	// Same ID while active: still a no-op.
	job, err := b.ClaimNext(ctx, domain.QueueScan)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	if err := b.Enqueue(ctx, domain.QueueScan, "scan-1", ""); err != nil {
		t.Fatalf("enqueue while active: %v", err)
	}
	counts, _ = b.Counts(ctx)
	if got := counts[domain.QueueScan].Waiting; got != 0 {
		t.Errorf("waiting after claim = %d, want 0", got)
	}

	// After completion the same ID re-queues.
	if err := b.Complete(ctx, job, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := b.Enqueue(ctx, domain.QueueScan, "scan-1", `{"again":true}`); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	job2, err := b.ClaimNext(ctx, domain.QueueScan)
	if err != nil || job2 == nil {
		t.Fatalf("second claim: job=%v err=%v", job2, err)
	}
	if job2.Payload != `{"again":true}` {
		t.Errorf("payload = %q, want refreshed payload", job2.Payload)
	}
	if job2.Attempts != 1 {
		t.Errorf("attempts after reset = %d, want 1", job2.Attempts)
	}
}

func TestClaimNextOrderAndIsolation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Enqueue(ctx, domain.QueuePhash, "phash-a", ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := b.Enqueue(ctx, domain.QueuePhash, "phash-b", ""); err != nil {
		t.Fatal(err)
	}

	// A different queue sees nothing.
	if job, _ := b.ClaimNext(ctx, domain.QueueEmbedding); job != nil {
		t.Fatalf("claimed %s from empty queue", job.ID)
	}

	first, _ := b.ClaimNext(ctx, domain.QueuePhash)
	if first == nil || first.ID != "phash-a" {
		t.Fatalf("first claim = %+v, want phash-a", first)
	}
	second, _ := b.ClaimNext(ctx, domain.QueuePhash)
	if second == nil || second.ID != "phash-b" {
		t.Fatalf("second claim = %+v, want phash-b", second)
	}
	if third, _ := b.ClaimNext(ctx, domain.QueuePhash); third != nil {
		t.Fatalf("third claim = %+v, want nil", third)
	}
}

func TestFailRetriesWithBackoff(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Enqueue(ctx, domain.QueueEmbedding, "embedding-x", ""); err != nil {
		t.Fatal(err)
	}
	job, _ := b.ClaimNext(ctx, domain.QueueEmbedding)
	if job == nil {
		t.Fatal("expected claim")
	}

	if err := b.Fail(ctx, job, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Backoff pushes run_after into the future, so the job is not
	// immediately claimable.
	if j, _ := b.ClaimNext(ctx, domain.QueueEmbedding); j != nil {
		t.Fatalf("claimed %s during backoff", j.ID)
	}

	var stored domain.Job
	if err := b.db.First(&stored, "id = ?", "embedding-x").Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.JobStatusWaiting {
		t.Errorf("status = %s, want waiting", stored.Status)
	}
	if stored.LastError != "boom" {
		t.Errorf("last_error = %q, want boom", stored.LastError)
	}
	if !stored.RunAfter.After(time.Now()) {
		t.Errorf("run_after = %v, want in the future", stored.RunAfter)
	}
}

func TestFailTerminalAtAttemptCap(t *testing.T) {
	db := newTestDB(t)
	b := NewBroker(db, NewBus(), 1)
	ctx := context.Background()

	if err := b.Enqueue(ctx, domain.QueueScan, "scan-x", ""); err != nil {
		t.Fatal(err)
	}
	job, _ := b.ClaimNext(ctx, domain.QueueScan)
	if job == nil {
		t.Fatal("expected claim")
	}
	if err := b.Fail(ctx, job, errors.New("fatal")); err != nil {
		t.Fatal(err)
	}

	var stored domain.Job
	if err := db.First(&stored, "id = ?", "scan-x").Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}

	counts, _ := b.Counts(ctx)
	if got := counts[domain.QueueScan].Failed; got != 1 {
		t.Errorf("failed count = %d, want 1", got)
	}
}

func TestBrokerEvents(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	events, cancel := b.Bus().Subscribe(domain.QueueScan)
	defer cancel()

	if err := b.Enqueue(ctx, domain.QueueScan, "scan-ev", ""); err != nil {
		t.Fatal(err)
	}
	job, _ := b.ClaimNext(ctx, domain.QueueScan)
	b.Progress(job, map[string]int{"done": 1})
	if err := b.Complete(ctx, job, nil); err != nil {
		t.Fatal(err)
	}

	want := []string{domain.EventJobActive, domain.EventJobProgress, domain.EventJobCompleted}
	for _, wantType := range want {
		select {
		case ev := <-events:
			if ev.Type != wantType {
				t.Errorf("event type = %s, want %s", ev.Type, wantType)
			}
			if ev.JobID != "scan-ev" {
				t.Errorf("event job = %s, want scan-ev", ev.JobID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", wantType)
		}
	}
}

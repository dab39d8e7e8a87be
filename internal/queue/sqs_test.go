package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryQueue_EnqueueReceive(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	jobs := []IngestJob{
		{ID: "j1", TenantID: "t1", RepoID: "r1", RepoURL: "https://git.example.com/a.git", CreatedAt: time.Now()},
		{ID: "j2", TenantID: "t1", RepoID: "r2", RepoURL: "https://git.example.com/b.git", Full: true},
		{ID: "j3", TenantID: "t2", RepoID: "r3", RepoURL: "https://git.example.com/c.git"},
	}
	for _, job := range jobs {
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", job.ID, err)
		}
	}

	got, err := q.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got))
	}
	if got[0].ID != "j1" || got[1].ID != "j2" {
		t.Fatalf("jobs out of order: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[1].Full {
		t.Error("Full flag lost in transit")
	}

	rest, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].ID != "j3" {
		t.Fatalf("unexpected remaining jobs: %+v", rest)
	}
}

func TestInMemoryQueue_ReceiveEmpty(t *testing.T) {
	q := NewInMemoryQueue()

	got, err := q.Receive(context.Background(), 5)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no jobs, got %d", len(got))
	}
}

func TestInMemoryQueue_PendingDoesNotConsume(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if err := q.Enqueue(ctx, IngestJob{ID: "j1", TenantID: "t1", RepoID: "r1"}); err != nil {
		t.Fatal(err)
	}

	if pending := q.Pending(); len(pending) != 1 {
		t.Fatalf("expected 1 pending job, got %d", len(pending))
	}
	if pending := q.Pending(); len(pending) != 1 {
		t.Fatal("Pending must not consume jobs")
	}

	got, _ := q.Receive(ctx, 1)
	if len(got) != 1 {
		t.Fatal("job lost")
	}
}

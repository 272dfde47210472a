package session

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

type fakeExecutor struct{ id string }

func (f *fakeExecutor) ID() string { return f.id }

func TestSessionReleaseRunsOnce(t *testing.T) {
	sess := New(context.Background(), &v1.Task{ID: "t1"}, time.Minute)

	calls := 0
	sess.Bind(&fakeExecutor{id: "exec-1"}, func(ctx context.Context, exec interface{ ID() string }) error {
		calls++
		return nil
	})

	if err := sess.Release(context.Background()); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := sess.Release(context.Background()); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected release func to run exactly once, ran %d times", calls)
	}
	if !sess.Terminated() {
		t.Fatal("expected session to be terminated after release")
	}
}

func TestSessionDeadlineFires(t *testing.T) {
	sess := New(context.Background(), &v1.Task{ID: "t2"}, 10*time.Millisecond)
	select {
	case <-sess.Context().Done():
		if !errors.Is(sess.Context().Err(), context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", sess.Context().Err())
		}
	case <-time.After(time.Second):
		t.Fatal("expected session context to expire")
	}
}

func TestSessionReleaseWithoutBindIsNoop(t *testing.T) {
	sess := New(context.Background(), &v1.Task{ID: "t3"}, time.Minute)
	if err := sess.Release(context.Background()); err != nil {
		t.Fatalf("release without bind should be a no-op, got %v", err)
	}
}

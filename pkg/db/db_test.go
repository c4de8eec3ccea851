package db

import (
	"context"
	"os"
	"testing"
	"time"

	"Music-Enrich-Go/pkg/ratelimit"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// TestAcquireWindow verifies that the SQLite store enforces the limit, keeps
// the stored count at the limit and opens a new window once the old one ends.
func TestAcquireWindow(t *testing.T) {
	d, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		w, ok, err := d.Acquire(ctx, "k", 3, time.Minute, epoch.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if !ok || w.Count != i {
			t.Fatalf("call %d: ok=%v window=%+v", i, ok, w)
		}
	}
	w, ok, err := d.Acquire(ctx, "k", 3, time.Minute, epoch.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if ok || w.Count != 3 || !w.ResetAt.Equal(epoch.Add(time.Second+time.Minute)) {
		t.Fatalf("expected denial at limit, got ok=%v window=%+v", ok, w)
	}

	w, ok, err = d.Acquire(ctx, "k", 3, time.Minute, epoch.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || w.Count != 1 {
		t.Fatalf("expected fresh window, got ok=%v window=%+v", ok, w)
	}
}

func TestPeekAndPrune(t *testing.T) {
	d, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx := context.Background()

	if _, ok, err := d.Peek(ctx, "missing", epoch); err != nil || ok {
		t.Fatalf("expected no window, got ok=%v err=%v", ok, err)
	}
	d.Acquire(ctx, "old", 5, time.Minute, epoch)
	d.Acquire(ctx, "new", 5, time.Minute, epoch.Add(45*time.Second))

	now := epoch.Add(time.Minute)
	if _, ok, _ := d.Peek(ctx, "old", now); ok {
		t.Error("expired window reported active")
	}
	if w, ok, _ := d.Peek(ctx, "new", now); !ok || w.Count != 1 {
		t.Errorf("active window missing: ok=%v %+v", ok, w)
	}
	n, err := d.Prune(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned row, got %d %v", n, err)
	}
}

// TestLimiterOverFile drives the limiter against a database file, as
// cmd/web does when RATE_LIMIT_STORE=sqlite.
func TestLimiterOverFile(t *testing.T) {
	d, err := New("test.db")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		d.Close()
		os.Remove("test.db")
	}()

	l := ratelimit.New(d, 2, time.Minute)
	l.Now = func() time.Time { return epoch }
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if dec, err := l.TryAcquire(ctx, "muso_search_1.2.3.4"); err != nil || !dec.Allowed {
			t.Fatalf("call %d denied: %+v %v", i, dec, err)
		}
	}
	dec, err := l.TryAcquire(ctx, "muso_search_1.2.3.4")
	if err != nil || dec.Allowed || dec.Remaining != 0 {
		t.Fatalf("expected denial, got %+v %v", dec, err)
	}
	u, err := l.Status(ctx, "muso_search_1.2.3.4")
	if err != nil || u.Count != 2 || u.Remaining != 0 {
		t.Fatalf("unexpected usage %+v %v", u, err)
	}
}

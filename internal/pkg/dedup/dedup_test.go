package dedup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, window time.Duration) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDeduper(rdb, logger, window), s
}

func TestDeduper_FirstRequestPasses(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)

	dup, err := d.IsDuplicate(context.Background(), 1, "Sony WH-1000XM5")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("first request should not be a duplicate")
	}
}

func TestDeduper_RepeatWithinWindow(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	if _, err := d.IsDuplicate(ctx, 1, "Sony WH-1000XM5"); err != nil {
		t.Fatalf("first IsDuplicate: %v", err)
	}

	// 同名但大小写和空白不同，应当命中同一个 key
	dup, err := d.IsDuplicate(ctx, 1, "  sony wh-1000xm5 ")
	if err != nil {
		t.Fatalf("second IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("repeat within window should be a duplicate")
	}
}

func TestDeduper_DifferentUsersIndependent(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	if _, err := d.IsDuplicate(ctx, 1, "AirPods Pro"); err != nil {
		t.Fatalf("user 1 IsDuplicate: %v", err)
	}

	dup, err := d.IsDuplicate(ctx, 2, "AirPods Pro")
	if err != nil {
		t.Fatalf("user 2 IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("different users should not share dedup state")
	}
}

func TestDeduper_WindowExpiry(t *testing.T) {
	d, s := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := d.IsDuplicate(ctx, 1, "Nintendo Switch"); err != nil {
		t.Fatalf("first IsDuplicate: %v", err)
	}

	s.FastForward(2 * time.Minute)

	dup, err := d.IsDuplicate(ctx, 1, "Nintendo Switch")
	if err != nil {
		t.Fatalf("second IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("request after window expiry should not be a duplicate")
	}
}

func TestDeduper_Delete(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	if _, err := d.IsDuplicate(ctx, 1, "Kindle Paperwhite"); err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if err := d.Delete(ctx, 1, "Kindle Paperwhite"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	dup, err := d.IsDuplicate(ctx, 1, "Kindle Paperwhite")
	if err != nil {
		t.Fatalf("IsDuplicate after delete: %v", err)
	}
	if dup {
		t.Fatal("request after delete should not be a duplicate")
	}
}

package nats

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/adapter/natskv"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Conn {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	c, err := Connect(url, "taskforge-test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func uniqueChannel(t *testing.T) string {
	t.Helper()
	return "test." + t.Name()
}

func TestFeed_PublishSubscribe(t *testing.T) {
	conn := testConnect(t)
	f := NewFeed(conn, nil)
	channel := uniqueChannel(t)

	var (
		mu   sync.Mutex
		got  []string
		done = make(chan struct{})
		once sync.Once
	)
	unsub, err := f.Subscribe(channel, func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		n := len(got)
		mu.Unlock()
		if n == 2 {
			once.Do(func() { close(done) })
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	ctx := context.Background()
	if err := f.Publish(ctx, channel, []byte(`[{"name":"a"}]`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := f.Publish(ctx, channel, []byte(`[]`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != `[{"name":"a"}]` || got[1] != `[]` {
		t.Errorf("got %v", got)
	}
}

func TestFeed_EmptyPayloadIsNil(t *testing.T) {
	conn := testConnect(t)
	f := NewFeed(conn, nil)
	channel := uniqueChannel(t)

	received := make(chan []byte, 1)
	unsub, err := f.Subscribe(channel, func(data []byte) { received <- data })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := f.Publish(context.Background(), channel, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case data := <-received:
		if data != nil {
			t.Errorf("data = %q, want nil", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestFeed_Unsubscribe(t *testing.T) {
	conn := testConnect(t)
	f := NewFeed(conn, nil)
	channel := uniqueChannel(t)

	received := make(chan struct{}, 4)
	unsub, err := f.Subscribe(channel, func([]byte) { received <- struct{}{} })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsub()
	unsub()

	if err := f.Publish(context.Background(), channel, []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-received:
		t.Error("handler called after unsubscribe")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFeed_LastFromKV(t *testing.T) {
	conn := testConnect(t)
	ctx := context.Background()

	kv, err := conn.SnapshotKV(ctx, time.Minute)
	if err != nil {
		t.Fatalf("SnapshotKV: %v", err)
	}
	f := NewFeed(conn, natskv.New(kv))
	channel := uniqueChannel(t)

	if err := f.Publish(ctx, channel, []byte(`[1]`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, ok := f.Last(ctx, channel)
	if !ok || string(got) != `[1]` {
		t.Errorf("Last = %q (ok=%v), want [1]", got, ok)
	}

	// A second feed on the same bucket sees the snapshot.
	other := NewFeed(conn, natskv.New(kv))
	if got, ok := other.Last(ctx, channel); !ok || string(got) != `[1]` {
		t.Errorf("other Last = %q (ok=%v)", got, ok)
	}
}

func TestFeed_Validation(t *testing.T) {
	f := &Feed{}
	if _, err := f.Subscribe("", func([]byte) {}); err == nil {
		t.Error("expected error for empty channel")
	}
	if _, err := f.Subscribe("c", nil); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := f.Publish(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty channel")
	}
	if _, ok := f.Last(context.Background(), "c"); ok {
		t.Error("expected miss without a snapshot cache")
	}
}

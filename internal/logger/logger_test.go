package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/TaskForge/internal/config"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "taskforge-test"}, &buf)
	defer closer.Close()

	ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-9")
	l.InfoContext(ctx, "task started", "kind", "chain")
	l.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %q", buf.String())
	}
	want := map[string]string{
		"msg":        "task started",
		"service":    "taskforge-test",
		"request_id": "req-1",
		"task_id":    "task-9",
		"kind":       "chain",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %s", k, rec[k], v)
		}
	}
}

func TestNewAsyncFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "debug", Service: "s", Async: true, BufferSize: 16}, &buf)

	l.Debug("queued")
	closer.Close()

	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"queued"`)) {
		t.Errorf("record not flushed: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"ERROR", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input).String(); got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || TaskID(ctx) != "" {
		t.Error("empty context must yield empty ids")
	}
	ctx = WithTaskID(WithRequestID(ctx, "req-123"), "t-1")
	if RequestID(ctx) != "req-123" || TaskID(ctx) != "t-1" {
		t.Errorf("ids = %q, %q", RequestID(ctx), TaskID(ctx))
	}
}

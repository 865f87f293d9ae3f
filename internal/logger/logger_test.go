package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestNewRequestID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		if len(id) != 8 {
			t.Fatalf("expected 8 chars, got %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Errorf("request ids repeat too often: %d unique of 100", len(seen))
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
	ctx = WithRequestID(ctx, "turn-123")
	if got := RequestIDFromContext(ctx); got != "turn-123" {
		t.Errorf("expected turn-123, got %q", got)
	}
}

func TestForRequestAddsID(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	l := ForRequest(WithRequestID(context.Background(), "abc"))
	l.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"requestId":"abc"`) {
		t.Errorf("expected requestId in %s", buf.String())
	}
}

func TestLogBodyTruncates(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(prev)

	LogRequest(l, bytes.Repeat([]byte("x"), maxLoggedBody+10))
	if !strings.Contains(buf.String(), `"truncated":true`) {
		t.Errorf("expected truncation flag in %s", buf.String())
	}
	buf.Reset()
	LogResponse(l, nil)
	if buf.Len() != 0 {
		t.Errorf("empty body should not log, got %s", buf.String())
	}
}

func TestNewWriterJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	w, err := newWriter(&buf, Options{})
	if err != nil {
		t.Fatalf("newWriter: %v", err)
	}
	zl := zerolog.New(w)
	zl.Info().Str("battleId", "b1").Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"battleId":"b1"`) {
		t.Errorf("expected a JSON line, got %q", buf.String())
	}
}

func TestNewWriterConsoleInDev(t *testing.T) {
	var buf bytes.Buffer
	w, err := newWriter(&buf, Options{Dev: true})
	if err != nil {
		t.Fatalf("newWriter: %v", err)
	}
	zl := zerolog.New(w)
	zl.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}

func TestNewWriterTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coachwars.log")
	var buf bytes.Buffer
	w, err := newWriter(&buf, Options{File: path})
	if err != nil {
		t.Fatalf("newWriter: %v", err)
	}
	zl := zerolog.New(w)
	zl.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Errorf("expected line in file, got %q", data)
	}
	if buf.Len() == 0 {
		t.Error("expected line on stdout too")
	}
}

func TestNewWriterMissingDirectory(t *testing.T) {
	var buf bytes.Buffer
	w, err := newWriter(&buf, Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Fatal("expected error for unopenable file")
	}
	if w == nil {
		t.Fatal("expected stdout writer despite file error")
	}
}

func TestPadCallerFixedWidth(t *testing.T) {
	for _, file := range []string{"/a/b.go", "/very/long/path/to/some_really_long_file_name_here.go"} {
		if got := padCaller(0, file, 12); len(got) != callerWidth {
			t.Errorf("padCaller(%q) = %q, want width %d", file, got, callerWidth)
		}
	}
}

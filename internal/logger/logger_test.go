package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput points the logger at a buffer with colors off and restores
// the previous output afterwards.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.RLock()
	prevOut, prevColor, prevFormat := output, useColor, format
	mu.RUnlock()
	prevLevel := level.Level()

	InitWithWriter(buf, "", "text", false)

	t.Cleanup(func() {
		mu.Lock()
		output, useColor, format = prevOut, prevColor, prevFormat
		mu.Unlock()
		level.Set(prevLevel)
		rebuild()
	})
	return buf
}

// ============================================================================
// Level filtering
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		present []string
		absent  []string
	}{
		{"DEBUG", []string{"debug message", "info message", "warn message", "error message"}, nil},
		{"INFO", []string{"info message", "warn message", "error message"}, []string{"debug message"}},
		{"WARN", []string{"warn message", "error message"}, []string{"debug message", "info message"}},
		{"ERROR", []string{"error message"}, []string{"debug message", "info message", "warn message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := captureOutput(t)
			SetLevel(tt.level)

			Debug("debug message")
			Info("info message")
			Warn("warn message")
			Error("error message")

			out := buf.String()
			for _, s := range tt.present {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	t.Run("CaseInsensitive", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("debug")
		Debug("lowercase works")
		assert.Contains(t, buf.String(), "lowercase works")
	})

	t.Run("InvalidIgnored", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		SetLevel("LOUD")
		Debug("hidden")
		Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

// ============================================================================
// Text formatting
// ============================================================================

func TestTextFormat(t *testing.T) {
	t.Run("TimestampAndLevel", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		Info("device found")
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\] \[INFO\] device found`, buf.String())
	})

	t.Run("StructuredFields", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		Info("device found", KeyPlayer, 3, KeyName, "CDJ-2000")
		out := buf.String()
		assert.Contains(t, out, "player=3")
		assert.Contains(t, out, "name=CDJ-2000")
	})

	t.Run("QuotesValuesWithSpaces", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		Info("device found", KeyName, "DJM 900")
		assert.Contains(t, buf.String(), `name="DJM 900"`)
	})

	t.Run("GroupsFlattenToDottedKeys", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		With(slog.Group("deck", slog.Int("player", 2))).Info("cleared")
		assert.Contains(t, buf.String(), "deck.player=2")
	})

	t.Run("NilErrorAttrDropped", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		Info("no error", Err(nil))
		assert.NotContains(t, buf.String(), "error=")
	})
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	Info("track loaded", Player(2), ContentID(1234))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "track loaded", entry["msg"])
	assert.EqualValues(t, 2, entry[KeyPlayer])
	assert.EqualValues(t, 1234, entry[KeyContentID])
}

// ============================================================================
// Context fields
// ============================================================================

func TestContextFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")

	lc := NewLogContext("resolve").WithKind("artwork").WithPlayer(4).WithTrace("abc", "def")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "resolved", KeySource, "lru")

	out := buf.String()
	assert.Contains(t, out, "trace_id=abc")
	assert.Contains(t, out, "operation=resolve")
	assert.Contains(t, out, "kind=artwork")
	assert.Contains(t, out, "player=4")
	assert.Less(t, strings.Index(out, "trace_id"), strings.Index(out, "source=lru"))
}

func TestContextWithoutLogContext(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	WarnCtx(context.Background(), "plain")
	assert.Contains(t, buf.String(), "plain")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestLogContextCopies(t *testing.T) {
	base := NewLogContext("exchange")
	derived := base.WithPlayer(2)
	assert.Equal(t, 0, base.Player)
	assert.Equal(t, 2, derived.Player)

	var nilCtx *LogContext
	assert.Nil(t, nilCtx.WithPlayer(1))
	assert.Zero(t, nilCtx.DurationMs())
}

// ============================================================================
// Init
// ============================================================================

func TestInit(t *testing.T) {
	t.Run("RejectsUnknownLevel", func(t *testing.T) {
		captureOutput(t)
		assert.Error(t, Init(Config{Level: "chatty"}))
	})

	t.Run("WritesToFile", func(t *testing.T) {
		captureOutput(t)
		path := t.TempDir() + "/deckwatch.log"

		require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
		Info("to file")
		t.Cleanup(func() {
			mu.Lock()
			if closer != nil {
				_ = closer.Close()
				closer = nil
			}
			mu.Unlock()
		})

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
	})
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentLogging(t *testing.T) {
	InitWithWriter(io.Discard, "DEBUG", "text", false)
	t.Cleanup(func() {
		mu.Lock()
		output = os.Stdout
		mu.Unlock()
		SetLevel("INFO")
		rebuild()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("status", KeyPlayer, id, "seq", j)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if j%2 == 0 {
					SetLevel("DEBUG")
				} else {
					SetFormat("json")
					SetFormat("text")
				}
			}
		}()
	}
	require.NotPanics(t, wg.Wait)
}

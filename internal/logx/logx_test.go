package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFields_Constructors(t *testing.T) {
	now := time.Now()
	s := "drv"

	require.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	require.Equal(t, Field{Key: "k", Value: "drv"}, OptString("k", &s))
	require.Equal(t, Field{Key: "k", Value: ""}, OptString("k", nil))
	require.Equal(t, Field{Key: "k", Value: 1}, Int("k", 1))
	require.Equal(t, Field{Key: "k", Value: int64(2)}, Int64("k", int64(2)))
	require.Equal(t, Field{Key: "k", Value: uint64(3)}, Uint64("k", 3))
	require.Equal(t, Field{Key: "k", Value: true}, Bool("k", true))
	require.Equal(t, Field{Key: "err", Value: "boom"}, Err(errors.New("boom")))
	require.Equal(t, Field{Key: "err", Value: nil}, Err(nil))
	require.Equal(t, Field{Key: "k", Value: now}, Time("k", now))
	require.Equal(t, Field{Key: "k", Value: time.Second}, Duration("k", time.Second))
}

func TestNopLogger_NoPanic(t *testing.T) {
	l := Nop()
	l.Debug("d", String("k", "v"))
	l.Info("i", Int("n", 1))
	l.Warn("w")
	l.Error("e")

	l2 := l.With(String("x", "y"))
	require.NotNil(t, l2)

	require.NoError(t, l.Sync())
	require.NoError(t, l2.Sync())
}

func TestSlogAdapter_LevelsAndWith(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewSlogAdapter(base).With(String("x", "y"))

	l.Debug("d")
	l.Info("i", Int("n", 1))
	l.Warn("w")
	l.Error("e", Err(errors.New("boom")))
	require.NoError(t, l.Sync())

	out := buf.String()
	for _, want := range []string{"level=DEBUG msg=d x=y", "level=INFO msg=i x=y n=1", "level=WARN msg=w", "level=ERROR msg=e x=y err=boom"} {
		require.Contains(t, out, want)
	}
}

func TestToAttrs(t *testing.T) {
	attrs := toAttrs([]Field{String("a", "b"), Int("n", 1)})
	require.Len(t, attrs, 2)
	require.Equal(t, "a", attrs[0].Key)
	require.Equal(t, "b", attrs[0].Value.String())
	require.Equal(t, int64(1), attrs[1].Value.Int64())
	require.Empty(t, toAttrs(nil))
}

func TestNew_WritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")

	l.Info("hidden")
	l.With(String("svc", "parcelflow")).Warn("shown", Int("n", 7))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "parcelflow", rec["svc"])
	require.EqualValues(t, 7, rec["n"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

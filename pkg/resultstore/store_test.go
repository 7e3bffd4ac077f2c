package resultstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/bridgeerr"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_SmallPayloadNotCompacted(t *testing.T) {
	s := NewStore(time.Minute, clockAt(time.Now()), testLogger())

	resp := s.Store("tiny", "srv", "tool", DefaultCompactorConfig())
	assert.Equal(t, false, resp["compacted"])
	assert.Equal(t, "tiny", resp["data"])
	assert.Equal(t, 0, s.Count())
}

func TestStore_LargePayloadCompactedAndRetrievable(t *testing.T) {
	s := NewStore(time.Minute, clockAt(time.Now()), testLogger())

	rows := make([]any, 25)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	payload := map[string]any{"rows": rows}

	resp := s.Store(payload, "srv", "query", DefaultCompactorConfig())
	require.Equal(t, true, resp["compacted"])
	id, ok := resp["result_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	fetched, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, payload, fetched["data"])
}

func TestStore_GetUnknownID(t *testing.T) {
	s := NewStore(time.Minute, clockAt(time.Now()), testLogger())

	_, err := s.Get("nope")
	require.Error(t, err)
	var be *bridgeerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, bridgeerr.KindResultMissing, be.Kind)
}

func TestStore_GetExpiredResult(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	s := NewStore(time.Minute, fc, testLogger())

	rows := make([]any, 25)
	payload := map[string]any{"rows": rows}
	resp := s.Store(payload, "srv", "query", DefaultCompactorConfig())
	id := resp["result_id"].(string)

	fc.now = fc.now.Add(2 * time.Minute)

	_, err := s.Get(id)
	require.Error(t, err)
	var be *bridgeerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, bridgeerr.KindResultExpired, be.Kind)
}

func TestStore_ListResultsExcludesExpired(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	s := NewStore(time.Minute, fc, testLogger())

	rows := make([]any, 25)
	first := s.Store(map[string]any{"rows": rows}, "srv", "a", DefaultCompactorConfig())
	fc.now = fc.now.Add(2 * time.Minute)
	second := s.Store(map[string]any{"rows": rows}, "srv", "b", DefaultCompactorConfig())

	list := s.ListResults()
	require.Len(t, list, 1)
	assert.Equal(t, second["result_id"], list[0]["result_id"])
	_ = first
}

func TestStore_SweepRemovesExpiredEntries(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	s := NewStore(time.Minute, fc, testLogger())

	rows := make([]any, 25)
	s.Store(map[string]any{"rows": rows}, "srv", "a", DefaultCompactorConfig())
	require.Equal(t, 1, s.Count())

	fc.now = fc.now.Add(2 * time.Minute)
	s.sweep()
	assert.Equal(t, 0, s.Count())
}

func TestStore_StartStopIsIdempotent(t *testing.T) {
	s := NewStore(time.Minute, clockAt(time.Now()), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // no-op, must not deadlock or double-launch
	s.Stop()
	s.Stop() // no-op
}

func TestStore_NextIDFormat(t *testing.T) {
	s := NewStore(time.Minute, clockAt(time.Now()), testLogger())
	id := s.nextID("srv", "tool")
	assert.Contains(t, id, "srv_tool_")
}

func clockAt(t time.Time) *fakeClock { return &fakeClock{now: t} }

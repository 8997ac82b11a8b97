package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *recordingSink) WriteAuditEntry(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestRecordDecision_BuffersAndForwards(t *testing.T) {
	sink := &recordingSink{}
	trail := NewTrail(sink, 10)

	trail.RecordDecision("user-1", "mint-1", false, "no sell route", map[string]any{"penalty": 60})

	require.Equal(t, 1, trail.Len())
	entry := trail.Entries()[0]
	assert.Equal(t, EventGateDecision, entry.EventType)
	assert.Equal(t, "block", entry.Decision)
	assert.Equal(t, "no sell route", entry.Reason)
	assert.NotEmpty(t, entry.ID)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.entries, 1)
}

func TestRecord_DeadSinkNeverDropsLocalLog(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	trail := NewTrail(sink, 10)

	trail.RecordTrigger("user-1", "rug_streak", "3 rugs", nil)

	assert.Equal(t, 1, trail.Len(), "local buffer must survive a dead sink")
}

func TestBuffer_FIFOEviction(t *testing.T) {
	trail := NewTrail(nil, 3)

	for i := 0; i < 5; i++ {
		trail.RecordReset(fmt.Sprintf("user-%d", i), "admin")
	}

	entries := trail.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "user-2", entries[0].UserID, "oldest entries evicted first")
	assert.Equal(t, "user-4", entries[2].UserID)
}

func TestQueryByUser(t *testing.T) {
	trail := NewTrail(nil, 10)

	trail.RecordDecision("user-1", "mint-1", true, "all rules passed", nil)
	trail.RecordDecision("user-2", "mint-2", true, "all rules passed", nil)
	trail.RecordTrigger("user-1", "manual", "halt", nil)

	got := trail.QueryByUser("user-1")
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "user-1", e.UserID)
	}
}

func TestRecordCorruption(t *testing.T) {
	trail := NewTrail(nil, 10)

	trail.RecordCorruption("wallet-1", "sig-1", "RPC sources deviate 5.00%", nil)

	entries := trail.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EventDeltaCorrupted, entries[0].EventType)
	assert.Equal(t, "wallet-1", entries[0].UserID)
}

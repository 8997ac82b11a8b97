package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Entry event types.
const (
	EventGateDecision   = "gate_decision"
	EventBreakerTrigger = "breaker_trigger"
	EventBreakerReset   = "breaker_reset"
	EventDeltaCorrupted = "delta_corrupted"
)

// Entry is a single audit trail record. Every admission decision and
// every breaker transition is recorded, so each block can be traced to
// a human-readable reason after the fact.
type Entry struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"ts"`
	UserID    string    `json:"user_id,omitempty"`
	TokenMint string    `json:"token_mint,omitempty"`
	Decision  string    `json:"decision,omitempty"` // pass|block|trigger|reset
	Reason    string    `json:"reason,omitempty"`
	Payload   string    `json:"payload"` // JSON of the full event
}

// Sink receives every recorded entry, typically for persistence.
type Sink interface {
	WriteAuditEntry(ctx context.Context, entry Entry) error
}

// Trail records the decision chain. It maintains an in-memory buffer
// (capped at maxBuf, FIFO eviction) for querying and forwards every entry
// to the sink best-effort: a dead sink never blocks or drops the local log.
type Trail struct {
	mu      sync.Mutex
	sink    Sink
	entries []Entry
	maxBuf  int
}

// NewTrail creates an audit trail. sink may be nil (buffer only).
func NewTrail(sink Sink, maxBuf int) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{
		sink:    sink,
		entries: make([]Entry, 0, maxBuf),
		maxBuf:  maxBuf,
	}
}

// RecordDecision logs an admission decision.
func (t *Trail) RecordDecision(userID, tokenMint string, passed bool, reason string, payload any) {
	decision := "block"
	if passed {
		decision = "pass"
	}
	t.record(Entry{
		EventType: EventGateDecision,
		UserID:    userID,
		TokenMint: tokenMint,
		Decision:  decision,
		Reason:    reason,
		Payload:   mustMarshal(payload),
	})
}

// RecordTrigger logs a circuit breaker trigger. At-least-once: the entry
// always lands in the local buffer and the process log even if the sink
// write fails.
func (t *Trail) RecordTrigger(userID, triggerType, reason string, payload any) {
	t.record(Entry{
		EventType: EventBreakerTrigger,
		UserID:    userID,
		Decision:  "trigger",
		Reason:    triggerType + ": " + reason,
		Payload:   mustMarshal(payload),
	})
}

// RecordReset logs a circuit breaker reset.
func (t *Trail) RecordReset(userID, by string) {
	t.record(Entry{
		EventType: EventBreakerReset,
		UserID:    userID,
		Decision:  "reset",
		Reason:    "reset by " + by,
		Payload:   "{}",
	})
}

// RecordCorruption logs a rejected transaction delta.
func (t *Trail) RecordCorruption(wallet, signature, reason string, payload any) {
	t.record(Entry{
		EventType: EventDeltaCorrupted,
		UserID:    wallet,
		Decision:  "block",
		Reason:    reason,
		TokenMint: signature,
		Payload:   mustMarshal(payload),
	})
}

// QueryByUser returns buffered entries for a user.
func (t *Trail) QueryByUser(userID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var result []Entry
	for _, e := range t.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of all buffered entries.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Trail) record(entry Entry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()

	t.mu.Lock()
	if t.maxBuf > 0 {
		if len(t.entries) >= t.maxBuf {
			copy(t.entries, t.entries[1:])
			t.entries[len(t.entries)-1] = entry
		} else {
			t.entries = append(t.entries, entry)
		}
	}
	sink := t.sink
	t.mu.Unlock()

	log.Info().
		Str("event", entry.EventType).
		Str("user", entry.UserID).
		Str("decision", entry.Decision).
		Str("reason", entry.Reason).
		Msg("audit: entry recorded")

	if sink != nil {
		if err := sink.WriteAuditEntry(context.Background(), entry); err != nil {
			log.Error().Err(err).
				Str("event", entry.EventType).
				Str("user", entry.UserID).
				Msg("audit: sink write failed")
		}
	}
}

// mustMarshal marshals v to JSON, returning "{}" on error.
func mustMarshal(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("audit: marshal payload failed")
		return "{}"
	}
	return string(data)
}

package soldelta

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/breaker"
	"github.com/sentinel-trading/sentinel/internal/reputation"
)

// Feedback routes parsed post-trade deltas back into the safety state:
// breaker counters and deployer reputation. This runs after trades
// close; it is bookkeeping, never part of pre-trade gating.
type Feedback struct {
	breaker    *breaker.Breaker
	reputation *reputation.Service
}

// NewFeedback creates the post-trade feedback recorder.
func NewFeedback(brk *breaker.Breaker, rep *reputation.Service) *Feedback {
	return &Feedback{breaker: brk, reputation: rep}
}

// ApplyClose records the safety consequences of a closed position.
// Corrupted deltas are skipped entirely; poisoned data must not move
// counters. All writes are best-effort and logged on failure.
func (f *Feedback) ApplyClose(ctx context.Context, userID, deployerWallet string, res *Result, rugFlagged bool, lpSurvivalSeconds float64) {
	if res == nil {
		return
	}

	// Adverse signals count even from corrupted deltas; the corruption
	// itself is often the evidence.
	if res.Flags.SellWithNoReceive && !rugFlagged {
		// Sold but received nothing: hidden transfer tax ate the proceeds.
		f.breaker.RecordHiddenTax(ctx, userID)
	}

	if rugFlagged {
		f.breaker.RecordRug(ctx, userID)
		if err := f.reputation.RecordRugPull(ctx, deployerWallet, lpSurvivalSeconds); err != nil {
			log.Error().Err(err).Str("deployer", deployerWallet).Msg("soldelta: rug record failed")
		}
		return
	}

	if ShouldBlockPnL(res) {
		log.Warn().
			Str("user_id", userID).
			Str("signature", string(res.Signature)).
			Msg("soldelta: corrupted delta, skipping reputation credit")
		return
	}

	if err := f.reputation.RecordSuccessfulToken(ctx, deployerWallet); err != nil {
		log.Error().Err(err).Str("deployer", deployerWallet).Msg("soldelta: success record failed")
	}
}

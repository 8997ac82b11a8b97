package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/audit"
	"github.com/sentinel-trading/sentinel/internal/breaker"
	"github.com/sentinel-trading/sentinel/internal/cluster"
)

// ---------------------------------------------------------------------------
// Admission gate engine.
// SAFETY > PROFIT > SPEED
//
// Three explicit stages per candidate:
//   1. synchronous pure rules, canonical order, no I/O
//   2. async collaborator rules, issued together, joined
//   3. deterministic aggregation + completeness meta-rule
// Boolean-AND of rule outcomes is authoritative; penalty is advisory.
// ---------------------------------------------------------------------------

// Completeness meta-rule thresholds over caution-outcome counts.
const (
	cautionHardFailCount = 6
	cautionFailCount     = 4
	cautionPenaltyCount  = 2
	cautionPenaltyWeight = 5 // per caution outcome once over the floor
)

// Engine evaluates candidate trades against all admission rules.
type Engine struct {
	routes     RouteValidator
	depth      DepthValidator
	reputation ReputationScorer
	clusters   cluster.Detector
	breaker    *breaker.Breaker
	trail      *audit.Trail

	now func() time.Time

	// Metrics
	admitted atomic.Int64
	rejected atomic.Int64
}

// New creates a gate engine. breaker and trail may be nil for isolated
// rule testing; all other collaborators are required.
func New(routes RouteValidator, depthV DepthValidator, rep ReputationScorer, clusters cluster.Detector, brk *breaker.Breaker, trail *audit.Trail) *Engine {
	return &Engine{
		routes:     routes,
		depth:      depthV,
		reputation: rep,
		clusters:   clusters,
		breaker:    brk,
		trail:      trail,
		now:        time.Now,
	}
}

// Evaluate runs the full admission pipeline for one candidate.
// Re-running on an unchanged input yields an identical decision.
func (e *Engine) Evaluate(ctx context.Context, userID string, in Input) Decision {
	start := e.now()
	decision := Decision{
		TokenAddress: string(in.TokenAddress),
		EvaluatedAt:  start,
	}

	// Safety halt check first. A triggered breaker blocks before any
	// rule spends latency budget.
	if e.breaker != nil {
		if ok, reason := e.breaker.CheckAdmission(ctx, userID); !ok {
			decision.Results = []RuleResult{{Rule: RuleCircuitBreaker, Outcome: HardFail, Reason: reason}}
			decision.Passed = false
			e.finish(userID, &decision, start)
			return decision
		}
	}

	ec := newEvalContext(in)

	// Stage 1: synchronous rules.
	ec.add(ruleSanity(in))
	ec.add(ruleTimeBuffer(in, start))
	ec.add(ruleLiquidityReality(in))
	ec.add(ruleBuyerPosition(in))
	ec.add(rulePriceSanity(in))
	ec.add(ruleSymbolSpoofing(in))
	ec.add(ruleFreezeAuthority(in))
	ec.add(ruleLPDistribution(in, start))

	// Stage 2: async rules, all issued concurrently, joined here.
	// Fixed slots keep result order deterministic regardless of which
	// collaborator answers first.
	asyncRules := []func(context.Context, Input) RuleResult{
		e.ruleExecutableSell,
		e.ruleDeployerReputation,
		e.ruleBuyerCluster,
		e.ruleQuoteDepth,
		e.ruleDoubleQuote,
	}
	slots := make([]RuleResult, len(asyncRules))
	var wg sync.WaitGroup
	for i, rule := range asyncRules {
		wg.Add(1)
		go func(i int, rule func(context.Context, Input) RuleResult) {
			defer wg.Done()
			slots[i] = rule(ctx, in)
		}(i, rule)
	}
	wg.Wait()
	for _, r := range slots {
		ec.add(r)
	}

	// Stage 3: completeness meta-rule over typed outcomes, then
	// deterministic aggregation.
	ec.add(ruleDataCompleteness(ec))

	decision.Results = ec.results
	decision.Passed = ec.allPassed()
	decision.TotalPenalty = ec.totalPenalty()
	e.finish(userID, &decision, start)
	return decision
}

// ruleDataCompleteness prevents an attacker from sliding through the
// gaps of many individually-lenient rules at once: too many unknowns
// is itself a block.
func ruleDataCompleteness(ec *evalContext) RuleResult {
	cautions := ec.cautionCount()
	switch {
	case cautions >= cautionHardFailCount:
		return RuleResult{Rule: RuleDataCompleteness, Outcome: HardFail,
			Reason: fmt.Sprintf("%d rules ran on incomplete data", cautions)}
	case cautions >= cautionFailCount:
		return RuleResult{Rule: RuleDataCompleteness, Outcome: Fail,
			Reason: fmt.Sprintf("%d rules ran on incomplete data", cautions)}
	case cautions >= cautionPenaltyCount:
		return RuleResult{Rule: RuleDataCompleteness, Outcome: PassWithCaution,
			Penalty: cautions * cautionPenaltyWeight,
			Reason:  fmt.Sprintf("%d rules ran on incomplete data, proceeding with caution", cautions)}
	}
	return RuleResult{Rule: RuleDataCompleteness, Outcome: Pass, Reason: "data complete"}
}

func (e *Engine) finish(userID string, d *Decision, start time.Time) {
	d.ElapsedMs = e.now().Sub(start).Milliseconds()

	if d.Passed {
		e.admitted.Add(1)
		log.Info().
			Str("token", d.TokenAddress).
			Int("penalty", d.TotalPenalty).
			Int64("elapsed_ms", d.ElapsedMs).
			Msg("gate: ADMIT")
	} else {
		e.rejected.Add(1)
		log.Warn().
			Str("token", d.TokenAddress).
			Strs("failed_rules", d.FailedRules()).
			Int("penalty", d.TotalPenalty).
			Int64("elapsed_ms", d.ElapsedMs).
			Msg("gate: REJECT")
	}

	if e.trail != nil {
		reason := "all rules passed"
		if !d.Passed {
			reason = firstFailureReason(d.Results)
		}
		e.trail.RecordDecision(userID, d.TokenAddress, d.Passed, reason, d)
	}
}

func firstFailureReason(results []RuleResult) string {
	for _, r := range results {
		if !r.Passed() {
			return r.Rule + ": " + r.Reason
		}
	}
	return "rejected"
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	return Stats{Admitted: e.admitted.Load(), Rejected: e.rejected.Load()}
}

package gate

import (
	"context"
	"fmt"

	"github.com/sentinel-trading/sentinel/internal/depth"
	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/route"
	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Stage 2: async rules. Each talks to an external collaborator; the
// engine issues all of them concurrently and joins before aggregation.
// ---------------------------------------------------------------------------

// RouteValidator classifies a token's sell-route availability.
type RouteValidator interface {
	ValidateSellRoute(ctx context.Context, mint solana.Pubkey) route.Validation
}

// DepthValidator runs the quote-depth and double-quote checks.
type DepthValidator interface {
	ValidateDepth(ctx context.Context, input depth.Input) depth.Result
	ValidateDoubleQuote(ctx context.Context, input depth.Input) depth.Result
}

// ReputationScorer produces the effective deployer score.
type ReputationScorer interface {
	EffectiveScore(ctx context.Context, wallet string) (int, *reputation.Record)
}

// ruleExecutableSell verifies the token can actually be sold back.
// Unknown route state is a failure here, never a caution-pass: selling
// must never be assumed possible.
func (e *Engine) ruleExecutableSell(ctx context.Context, in Input) RuleResult {
	if in.BondingCurve {
		return RuleResult{Rule: RuleExecutableSell, Outcome: Pass,
			Reason: "bonding curve token, sell route guaranteed by curve"}
	}
	v := e.routes.ValidateSellRoute(ctx, in.TokenAddress)
	switch v.Status {
	case route.StatusHasRoute:
		return RuleResult{Rule: RuleExecutableSell, Outcome: Pass,
			Reason: fmt.Sprintf("sell route confirmed via %s", v.Source)}
	case route.StatusNoRoute:
		return RuleResult{Rule: RuleExecutableSell, Outcome: Fail, Penalty: 60,
			Reason: "no sell route on any aggregator"}
	case route.StatusAwaitingIndexing:
		return RuleResult{Rule: RuleExecutableSell, Outcome: Fail, Penalty: 40,
			Reason: "token not indexed by aggregators yet, retry later"}
	}
	return RuleResult{Rule: RuleExecutableSell, Outcome: Fail, Penalty: 40,
		Reason: "route status unknown: " + v.Message}
}

// ruleDeployerReputation blocks deployers whose effective score is
// below the floor. New deployers default to a clean score.
func (e *Engine) ruleDeployerReputation(ctx context.Context, in Input) RuleResult {
	minScore := in.Thresholds.MinReputationScore
	if minScore == 0 {
		minScore = 70
	}
	score, rec := e.reputation.EffectiveScore(ctx, string(in.DeployerWallet))
	if score < minScore {
		return RuleResult{Rule: RuleDeployerRep, Outcome: Fail, Penalty: 50,
			Reason: fmt.Sprintf("deployer reputation %d below %d (rugs=%d, ratio=%.2f)",
				score, minScore, rec.TotalRugs, rec.RugRatio)}
	}
	return RuleResult{Rule: RuleDeployerRep, Outcome: Pass,
		Reason: fmt.Sprintf("deployer reputation %d", score)}
}

// ruleBuyerCluster delegates to the funding-graph cluster detector.
// Lookup failure degrades to caution: the graph is a collaborator, not
// an oracle we can block on.
func (e *Engine) ruleBuyerCluster(ctx context.Context, in Input) RuleResult {
	report, err := e.clusters.CheckBuyerCluster(ctx, string(in.BuyerWallet), string(in.DeployerWallet))
	if err != nil {
		return RuleResult{Rule: RuleBuyerCluster, Outcome: PassWithCaution,
			Reason: "cluster lookup unavailable: " + err.Error()}
	}
	switch {
	case report.KnownBad:
		return RuleResult{Rule: RuleBuyerCluster, Outcome: Fail, Penalty: 60,
			Reason: fmt.Sprintf("buyer wallet in known-bad cluster %d", report.ClusterID)}
	case report.AssociationScore >= 70:
		return RuleResult{Rule: RuleBuyerCluster, Outcome: Fail, Penalty: 50,
			Reason: fmt.Sprintf("buyer funded within 2 hops of the deployer (association %.0f)", report.AssociationScore)}
	case report.WashCluster:
		return RuleResult{Rule: RuleBuyerCluster, Outcome: Fail, Penalty: 40,
			Reason: fmt.Sprintf("buyer belongs to a %d-wallet funding cluster (wash pattern)", report.ClusterSize)}
	case report.AssociationScore > 40:
		return RuleResult{Rule: RuleBuyerCluster, Outcome: PassWithCaution, Penalty: 15,
			Reason: fmt.Sprintf("weak deployer linkage (association %.0f)", report.AssociationScore)}
	}
	return RuleResult{Rule: RuleBuyerCluster, Outcome: Pass, Reason: "no adverse cluster signal"}
}

// ruleQuoteDepth maps the depth validator's verdict onto a rule result.
func (e *Engine) ruleQuoteDepth(ctx context.Context, in Input) RuleResult {
	res := e.depth.ValidateDepth(ctx, depthInput(in))
	return depthRule(RuleQuoteDepth, res, 40)
}

// ruleDoubleQuote maps the double-quote verdict onto a rule result.
func (e *Engine) ruleDoubleQuote(ctx context.Context, in Input) RuleResult {
	res := e.depth.ValidateDoubleQuote(ctx, depthInput(in))
	return depthRule(RuleDoubleQuote, res, 40)
}

func depthInput(in Input) depth.Input {
	return depth.Input{
		TokenMint:         in.TokenAddress,
		PoolLiquidityUSD:  in.LiquidityUSD,
		BuyAmountUSD:      in.Thresholds.BuyAmountUSD,
		BuyAmountLamports: in.Thresholds.BuyAmountLamports,
		MaxSlippagePct:    in.Thresholds.MaxSlippagePct,
		SlippageBps:       in.Thresholds.SlippageBps,
	}
}

func depthRule(name string, res depth.Result, failPenalty int) RuleResult {
	switch res.Verdict {
	case depth.VerdictOK:
		return RuleResult{Rule: name, Outcome: Pass, Reason: okReason(name, res)}
	case depth.VerdictDegraded:
		return RuleResult{Rule: name, Outcome: PassWithCaution, Reason: res.Reason}
	}
	return RuleResult{Rule: name, Outcome: Fail, Penalty: failPenalty, Reason: res.Reason}
}

func okReason(name string, res depth.Result) string {
	if name == RuleDoubleQuote {
		return fmt.Sprintf("quote deviation %.1f%%", res.DeviationPct)
	}
	return fmt.Sprintf("depth adequate, price impact %.2f%%", res.PriceImpactPct)
}

// Interface checks against the concrete collaborators.
var (
	_ RouteValidator   = (*route.Validator)(nil)
	_ DepthValidator   = (*depth.Validator)(nil)
	_ ReputationScorer = (*reputation.Service)(nil)
)

package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Stage 1: synchronous pure rules. Each is f(Input) -> RuleResult with
// no I/O; order between them does not matter, but the engine runs them
// in canonical order so decisions are byte-stable.
// ---------------------------------------------------------------------------

const (
	minPoolAgeHard = 15 * time.Second
	minPoolAgeSoft = 20 * time.Second

	priceJumpMaxRatio = 50.0

	lpConcentrationHardPct    = 85.0
	lpConcentrationAutoPct    = 75.0
	lpConcentrationCautionPct = 60.0
	lpMintedMinAge            = 60 * time.Second
)

// ruleSanity rejects inputs whose wallet addresses are not valid base58
// pubkeys. Malformed addresses upstream mean the whole snapshot is
// untrustworthy.
func ruleSanity(in Input) RuleResult {
	for _, field := range []struct {
		name string
		addr solana.Pubkey
	}{
		{"token", in.TokenAddress},
		{"deployer", in.DeployerWallet},
		{"buyer", in.BuyerWallet},
	} {
		if field.addr == "" {
			return RuleResult{Rule: RuleSanity, Outcome: Fail,
				Reason: fmt.Sprintf("%s address missing", field.name)}
		}
		raw, err := base58.Decode(string(field.addr))
		if err != nil || len(raw) != 32 {
			return RuleResult{Rule: RuleSanity, Outcome: Fail,
				Reason: fmt.Sprintf("%s address is not a valid pubkey: %s", field.name, field.addr)}
		}
	}
	return RuleResult{Rule: RuleSanity, Outcome: Pass, Reason: "addresses well-formed"}
}

// ruleTimeBuffer blocks buys into pools younger than the buffer. Sniping
// the very first seconds of a pool is how flash-liquidity traps get paid.
func ruleTimeBuffer(in Input, now time.Time) RuleResult {
	if in.PoolCreatedAt == nil {
		return RuleResult{Rule: RuleTimeBuffer, Outcome: PassWithCaution,
			Reason: "pool age unknown, proceeding with caution"}
	}
	age := now.Sub(*in.PoolCreatedAt)
	switch {
	case age < minPoolAgeHard:
		return RuleResult{Rule: RuleTimeBuffer, Outcome: Fail,
			Reason: fmt.Sprintf("instant execution blocked: pool is %.0fs old", age.Seconds())}
	case age < minPoolAgeSoft:
		return RuleResult{Rule: RuleTimeBuffer, Outcome: Fail,
			Reason: fmt.Sprintf("pool is %.0fs old, below %ds buffer", age.Seconds(), int(minPoolAgeSoft.Seconds()))}
	}
	return RuleResult{Rule: RuleTimeBuffer, Outcome: Pass,
		Reason: fmt.Sprintf("pool age %.0fs", age.Seconds())}
}

// ruleLiquidityReality enforces the mode-dependent liquidity floor and
// rejects pools whose liquidity provenance already looks like a rug.
func ruleLiquidityReality(in Input) RuleResult {
	if in.BondingCurve {
		return RuleResult{Rule: RuleLiquidityReality, Outcome: Pass,
			Reason: "bonding curve token, liquidity floor not applicable"}
	}
	if in.RemoveLiquiditySeen {
		return RuleResult{Rule: RuleLiquidityReality, Outcome: Fail, Penalty: 40,
			Reason: "RemoveLiquidity observed before buy"}
	}
	if in.LiquidityAdderWallet != "" && in.LiquidityAdderWallet == in.DeployerWallet {
		return RuleResult{Rule: RuleLiquidityReality, Outcome: Fail, Penalty: 40,
			Reason: "liquidity added by the deployer wallet itself"}
	}
	floor := in.liquidityFloor()
	if liq, _ := in.LiquidityUSD.Float64(); liq < floor {
		return RuleResult{Rule: RuleLiquidityReality, Outcome: Fail, Penalty: 40,
			Reason: fmt.Sprintf("liquidity $%.0f below $%.0f floor (%s mode)", liq, floor, in.Mode)}
	}
	return RuleResult{Rule: RuleLiquidityReality, Outcome: Pass,
		Reason: fmt.Sprintf("liquidity $%s above floor", in.LiquidityUSD.StringFixed(0))}
}

// ruleBuyerPosition enforces the buyer's position in the token's buyer
// queue. A configured allow-list is strict and checked before any
// exemption path; without one, holder-count-scaled ceilings apply.
func ruleBuyerPosition(in Input) RuleResult {
	if targets := in.Thresholds.TargetBuyerPositions; len(targets) > 0 {
		if in.BuyerPosition == nil {
			return RuleResult{Rule: RuleBuyerPosition, Outcome: Fail,
				Reason: "buyer position unknown with target positions configured"}
		}
		for _, t := range targets {
			if *in.BuyerPosition == t {
				return RuleResult{Rule: RuleBuyerPosition, Outcome: Pass,
					Reason: fmt.Sprintf("position %d in target list", *in.BuyerPosition)}
			}
		}
		return RuleResult{Rule: RuleBuyerPosition, Outcome: Fail,
			Reason: fmt.Sprintf("position %d not in target list %v", *in.BuyerPosition, targets)}
	}

	if in.UniqueHolders > 0 && in.UniqueHolders < in.Thresholds.MinUniqueHolders {
		return RuleResult{Rule: RuleBuyerPosition, Outcome: Fail,
			Reason: fmt.Sprintf("only %d unique holders, minimum %d", in.UniqueHolders, in.Thresholds.MinUniqueHolders)}
	}
	if in.BuyerPosition == nil {
		return RuleResult{Rule: RuleBuyerPosition, Outcome: PassWithCaution,
			Reason: "buyer position unavailable"}
	}

	ceiling := positionCeiling(in.Mode, in.UniqueHolders)
	if *in.BuyerPosition > ceiling {
		return RuleResult{Rule: RuleBuyerPosition, Outcome: Fail,
			Reason: fmt.Sprintf("position %d over ceiling %d for %d holders (%s mode)",
				*in.BuyerPosition, ceiling, in.UniqueHolders, in.Mode)}
	}
	return RuleResult{Rule: RuleBuyerPosition, Outcome: Pass,
		Reason: fmt.Sprintf("position %d within ceiling %d", *in.BuyerPosition, ceiling)}
}

// positionCeiling scales the allowed buyer position by holder count,
// stricter for unattended auto buys.
func positionCeiling(mode Mode, holders int) int {
	if mode == ModeManual {
		switch {
		case holders >= 50:
			return 20
		case holders >= 10:
			return 10
		}
		return 5
	}
	switch {
	case holders >= 50:
		return 10
	case holders >= 10:
		return 5
	}
	return 3
}

// rulePriceSanity rejects tokens whose price jumped implausibly since
// the prior sample.
func rulePriceSanity(in Input) RuleResult {
	if in.PricePrior.IsZero() || in.PriceCurrent.IsZero() {
		return RuleResult{Rule: RulePriceSanity, Outcome: PassWithCaution,
			Reason: "prior price sample unavailable"}
	}
	ratio, _ := in.PriceCurrent.Div(in.PricePrior).Float64()
	if ratio > priceJumpMaxRatio {
		return RuleResult{Rule: RulePriceSanity, Outcome: Fail,
			Reason: fmt.Sprintf("price jumped %.0fx since prior sample (max %.0fx)", ratio, priceJumpMaxRatio)}
	}
	return RuleResult{Rule: RulePriceSanity, Outcome: Pass,
		Reason: fmt.Sprintf("price ratio %.1fx", ratio)}
}

// protectedTickers maps well-known symbols to their official mints.
// Anything reusing one of these symbols under a different mint is an
// impersonation attempt.
var protectedTickers = map[string]solana.Pubkey{
	"SOL":  solana.WSOLMint,
	"WSOL": solana.WSOLMint,
	"USDC": solana.USDCMint,
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"BONK": "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	"JUP":  "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
	"WIF":  "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm",
}

// suspiciousNameFragments flag names fishing for borrowed credibility.
var suspiciousNameFragments = []string{
	"official", "verified", "elon", "musk", "trump", "airdrop", "giveaway",
}

// ruleSymbolSpoofing catches impersonation of protected tickers and
// credibility-fishing token names.
func ruleSymbolSpoofing(in Input) RuleResult {
	symbol := strings.ToUpper(strings.TrimSpace(in.TokenSymbol))
	if official, ok := protectedTickers[symbol]; ok && in.TokenAddress != official {
		return RuleResult{Rule: RuleSymbolSpoofing, Outcome: Fail, Penalty: 40,
			Reason: fmt.Sprintf("symbol %s is protected and mint does not match official", symbol)}
	}
	name := strings.ToLower(in.TokenName)
	for _, frag := range suspiciousNameFragments {
		if strings.Contains(name, frag) {
			return RuleResult{Rule: RuleSymbolSpoofing, Outcome: PassWithCaution,
				Reason: fmt.Sprintf("name contains suspicious pattern %q", frag)}
		}
	}
	return RuleResult{Rule: RuleSymbolSpoofing, Outcome: Pass, Reason: "symbol and name clean"}
}

// ruleFreezeAuthority hard-fails tokens whose freeze authority is still
// live: the deployer can freeze every holder account at will.
func ruleFreezeAuthority(in Input) RuleResult {
	if in.FreezeAuthorityActive == nil {
		return RuleResult{Rule: RuleFreezeAuthority, Outcome: PassWithCaution,
			Reason: "freeze authority state unknown"}
	}
	if *in.FreezeAuthorityActive {
		return RuleResult{Rule: RuleFreezeAuthority, Outcome: HardFail, Penalty: 50,
			Reason: "active freeze authority on mint"}
	}
	return RuleResult{Rule: RuleFreezeAuthority, Outcome: Pass, Reason: "freeze authority revoked"}
}

// ruleLPDistribution scores liquidity-pool ownership concentration and
// LP token provenance.
func ruleLPDistribution(in Input, now time.Time) RuleResult {
	conc := in.LPConcentrationPct
	switch {
	case conc > lpConcentrationHardPct:
		return RuleResult{Rule: RuleLPDistribution, Outcome: HardFail, Penalty: 50,
			Reason: fmt.Sprintf("LP concentration %.0f%% over hard limit %.0f%%", conc, lpConcentrationHardPct)}
	case conc > lpConcentrationAutoPct:
		if in.Mode == ModeManual {
			return RuleResult{Rule: RuleLPDistribution, Outcome: PassWithCaution, Penalty: 30,
				Reason: fmt.Sprintf("LP concentration %.0f%% elevated, manual mode proceeding with caution", conc)}
		}
		return RuleResult{Rule: RuleLPDistribution, Outcome: Fail, Penalty: 40,
			Reason: fmt.Sprintf("LP concentration %.0f%% too high for auto mode", conc)}
	}

	if in.LPOwnerWallet != "" && in.LPOwnerWallet == in.DeployerWallet && !in.BondingCurve {
		return RuleResult{Rule: RuleLPDistribution, Outcome: Fail, Penalty: 40,
			Reason: "LP tokens held by the deployer wallet"}
	}
	if in.LPMintedAt != nil && now.Sub(*in.LPMintedAt) < lpMintedMinAge {
		return RuleResult{Rule: RuleLPDistribution, Outcome: Fail,
			Reason: fmt.Sprintf("LP minted %.0fs ago, too fresh", now.Sub(*in.LPMintedAt).Seconds())}
	}
	if in.LPRecentlyTransferred {
		return RuleResult{Rule: RuleLPDistribution, Outcome: PassWithCaution, Penalty: 15,
			Reason: "LP tokens recently transferred, proceeding with caution"}
	}
	if conc > lpConcentrationCautionPct {
		return RuleResult{Rule: RuleLPDistribution, Outcome: PassWithCaution, Penalty: 15,
			Reason: fmt.Sprintf("LP concentration %.0f%% elevated", conc)}
	}
	return RuleResult{Rule: RuleLPDistribution, Outcome: Pass,
		Reason: fmt.Sprintf("LP concentration %.0f%%", conc)}
}

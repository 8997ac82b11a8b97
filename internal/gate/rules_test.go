package gate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// Well-formed 32-byte base58 pubkeys for test inputs.
const (
	testToken    = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	testDeployer = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testBuyer    = "ComputeBudget111111111111111111111111111111"
)

func baseInput() Input {
	pos := 2
	frozen := false
	return Input{
		TokenAddress:          testToken,
		TokenName:             "Test Token",
		TokenSymbol:           "TST",
		LiquidityUSD:          decimal.NewFromInt(50_000),
		DeployerWallet:        testDeployer,
		BuyerWallet:           testBuyer,
		BuyerPosition:         &pos,
		UniqueHolders:         60,
		LPConcentrationPct:    30,
		FreezeAuthorityActive: &frozen,
		PriceCurrent:          decimal.NewFromFloat(0.0011),
		PricePrior:            decimal.NewFromFloat(0.0010),
		Mode:                  ModeAuto,
		Thresholds: Thresholds{
			AutoLiquidityFloorUSD:   10_000,
			ManualLiquidityFloorUSD: 5_000,
			MinUniqueHolders:        5,
			MaxSlippagePct:          15,
			SlippageBps:             500,
			BuyAmountUSD:            decimal.NewFromInt(200),
			BuyAmountLamports:       1_000_000_000,
			MinReputationScore:      70,
		},
	}
}

func ago(d time.Duration, now time.Time) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestTimeBuffer_UnknownAgePassesWithCaution(t *testing.T) {
	in := baseInput()
	in.PoolCreatedAt = nil

	r := ruleTimeBuffer(in, time.Now())
	assert.Equal(t, PassWithCaution, r.Outcome)
	assert.True(t, r.Passed())
}

func TestTimeBuffer_InstantExecutionBlocked(t *testing.T) {
	now := time.Now()
	in := baseInput()
	in.PoolCreatedAt = ago(10*time.Second, now)

	r := ruleTimeBuffer(in, now)
	assert.Equal(t, Fail, r.Outcome)
	assert.Contains(t, r.Reason, "instant execution blocked")
}

func TestTimeBuffer_OldPoolPasses(t *testing.T) {
	now := time.Now()
	in := baseInput()
	in.PoolCreatedAt = ago(25*time.Second, now)

	r := ruleTimeBuffer(in, now)
	assert.Equal(t, Pass, r.Outcome)
}

func TestLiquidityReality_BelowFloorFails(t *testing.T) {
	in := baseInput()
	in.LiquidityUSD = decimal.NewFromInt(9_999)

	r := ruleLiquidityReality(in)
	assert.Equal(t, Fail, r.Outcome)
	assert.Equal(t, 40, r.Penalty)
}

func TestLiquidityReality_AtFloorPasses(t *testing.T) {
	in := baseInput()
	in.LiquidityUSD = decimal.NewFromInt(10_000)

	r := ruleLiquidityReality(in)
	assert.Equal(t, Pass, r.Outcome)
}

func TestLiquidityReality_ManualModeLowerFloor(t *testing.T) {
	in := baseInput()
	in.Mode = ModeManual
	in.LiquidityUSD = decimal.NewFromInt(6_000)

	r := ruleLiquidityReality(in)
	assert.Equal(t, Pass, r.Outcome)
}

func TestLiquidityReality_DeployerAddedLiquidityFails(t *testing.T) {
	in := baseInput()
	in.LiquidityAdderWallet = in.DeployerWallet

	r := ruleLiquidityReality(in)
	assert.Equal(t, Fail, r.Outcome)
	assert.Contains(t, r.Reason, "deployer")
}

func TestLiquidityReality_RemoveLiquiditySeenFails(t *testing.T) {
	in := baseInput()
	in.RemoveLiquiditySeen = true

	r := ruleLiquidityReality(in)
	assert.Equal(t, Fail, r.Outcome)
}

func TestBuyerPosition_EmptyTargetListPasses(t *testing.T) {
	in := baseInput()
	in.Thresholds.TargetBuyerPositions = nil
	in.BuyerPosition = nil

	r := ruleBuyerPosition(in)
	assert.True(t, r.Passed())
}

func TestBuyerPosition_TargetListEnforced(t *testing.T) {
	in := baseInput()
	in.Thresholds.TargetBuyerPositions = []int{1, 2, 3}

	pos := 5
	in.BuyerPosition = &pos
	r := ruleBuyerPosition(in)
	assert.Equal(t, Fail, r.Outcome)

	pos = 2
	r = ruleBuyerPosition(in)
	assert.Equal(t, Pass, r.Outcome)
}

func TestBuyerPosition_UnknownPositionWithTargetListFails(t *testing.T) {
	in := baseInput()
	in.Thresholds.TargetBuyerPositions = []int{1, 2, 3}
	in.BuyerPosition = nil

	r := ruleBuyerPosition(in)
	assert.Equal(t, Fail, r.Outcome)
}

func TestBuyerPosition_CeilingScalesWithHoldersAndMode(t *testing.T) {
	in := baseInput()
	pos := 8
	in.BuyerPosition = &pos
	in.UniqueHolders = 12

	in.Mode = ModeAuto
	assert.Equal(t, Fail, ruleBuyerPosition(in).Outcome) // auto ceiling 5

	in.Mode = ModeManual
	assert.Equal(t, Pass, ruleBuyerPosition(in).Outcome) // manual ceiling 10
}

func TestPriceSanity_JumpFails(t *testing.T) {
	in := baseInput()
	in.PricePrior = decimal.NewFromFloat(0.0001)
	in.PriceCurrent = decimal.NewFromFloat(0.006) // 60x

	r := rulePriceSanity(in)
	assert.Equal(t, Fail, r.Outcome)
}

func TestSymbolSpoofing_ProtectedTickerWrongMintFails(t *testing.T) {
	in := baseInput()
	in.TokenSymbol = "USDC"

	r := ruleSymbolSpoofing(in)
	assert.Equal(t, Fail, r.Outcome)
}

func TestSymbolSpoofing_SuspiciousNameCautions(t *testing.T) {
	in := baseInput()
	in.TokenName = "Elon Official Coin"

	r := ruleSymbolSpoofing(in)
	assert.Equal(t, PassWithCaution, r.Outcome)
}

func TestFreezeAuthority(t *testing.T) {
	in := baseInput()

	active := true
	in.FreezeAuthorityActive = &active
	r := ruleFreezeAuthority(in)
	assert.Equal(t, HardFail, r.Outcome)
	assert.Equal(t, 50, r.Penalty)

	in.FreezeAuthorityActive = nil
	r = ruleFreezeAuthority(in)
	assert.Equal(t, PassWithCaution, r.Outcome)
}

func TestLPDistribution_Concentration(t *testing.T) {
	now := time.Now()
	in := baseInput()

	in.LPConcentrationPct = 90
	r := ruleLPDistribution(in, now)
	assert.Equal(t, HardFail, r.Outcome)
	assert.Equal(t, 50, r.Penalty)

	in.LPConcentrationPct = 80
	in.Mode = ModeAuto
	r = ruleLPDistribution(in, now)
	assert.Equal(t, Fail, r.Outcome)

	in.Mode = ModeManual
	r = ruleLPDistribution(in, now)
	assert.Equal(t, PassWithCaution, r.Outcome)
	assert.Equal(t, 30, r.Penalty)
}

func TestLPDistribution_FreshLPMintFails(t *testing.T) {
	now := time.Now()
	in := baseInput()
	in.LPMintedAt = ago(30*time.Second, now)

	r := ruleLPDistribution(in, now)
	assert.Equal(t, Fail, r.Outcome)
}

func TestLPDistribution_DeployerOwnedFailsUnlessBondingCurve(t *testing.T) {
	now := time.Now()
	in := baseInput()
	in.LPOwnerWallet = in.DeployerWallet

	r := ruleLPDistribution(in, now)
	assert.Equal(t, Fail, r.Outcome)

	in.BondingCurve = true
	r = ruleLPDistribution(in, now)
	assert.True(t, r.Passed())
}

func TestSanity_MalformedAddressFails(t *testing.T) {
	in := baseInput()
	in.TokenAddress = "not-base58-0OIl"

	r := ruleSanity(in)
	assert.Equal(t, Fail, r.Outcome)

	in = baseInput()
	assert.Equal(t, Pass, ruleSanity(in).Outcome)
}

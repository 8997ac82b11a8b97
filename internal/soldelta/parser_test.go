package soldelta

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

const (
	testWallet = solana.Pubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	testSig    = solana.Signature("5VERYrealLookingSignature111111111111111111111111111111111111111111111111111111111111")
)

// makeTx builds a confirmed transaction with the wallet at index 0
// (fee payer) and the given pre/post lamport balances.
func makeTx(pre, post, fee uint64) *solana.ParsedTransaction {
	return &solana.ParsedTransaction{
		Slot:      123_456,
		Signature: testSig,
		AccountKeys: []solana.AccountKey{
			{Pubkey: testWallet, Signer: true, Writable: true},
			{Pubkey: "ComputeBudget111111111111111111111111111111"},
		},
		Meta: solana.TxMeta{
			FeeLamports:  fee,
			PreBalances:  []uint64{pre, 0},
			PostBalances: []uint64{post, 0},
		},
	}
}

func testParser(t *testing.T, primary, secondary *solana.StubRPCClient) *Parser {
	t.Helper()
	var sec solana.RPCClient
	if secondary != nil {
		sec = secondary
	}
	return NewParser(DefaultConfig(), primary, sec, nil)
}

func TestParseDelta_CleanBuy(t *testing.T) {
	primary := solana.NewStubRPCClient()
	// Balance change -0.5 SOL, fee 0.000005 SOL, no rent or WSOL noise.
	primary.AddTransaction(makeTx(10_000_000_000, 9_500_000_000, 5_000))

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, "0.499995", res.SolSpent.String())
	assert.True(t, res.SolReceived.IsZero())
	assert.Equal(t, "0.000005", res.Fee.String())
	assert.False(t, res.IsCorrupted)
	assert.False(t, ShouldBlockPnL(res))
}

func TestParseDelta_CleanSell(t *testing.T) {
	primary := solana.NewStubRPCClient()
	primary.AddTransaction(makeTx(9_500_000_000, 10_200_000_000, 5_000))

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeSell, decimal.NewFromFloat(0.5))
	require.NoError(t, err)

	assert.Equal(t, "0.700005", res.SolReceived.String())
	assert.True(t, res.SolSpent.IsZero())
	assert.False(t, res.IsCorrupted)
}

func TestParseDelta_BuyWithNoSpendIsCorrupted(t *testing.T) {
	primary := solana.NewStubRPCClient()
	// Only the fee left the wallet: a buy with zero economic spend.
	primary.AddTransaction(makeTx(10_000_000_000, 9_999_995_000, 5_000))

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, res.Flags.BuyWithNoSpend)
	assert.True(t, res.IsCorrupted)
	assert.True(t, ShouldBlockPnL(res))
}

func TestParseDelta_SellWithNoReceiveIsCorrupted(t *testing.T) {
	primary := solana.NewStubRPCClient()
	primary.AddTransaction(makeTx(10_000_000_000, 9_999_995_000, 5_000))

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeSell, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, res.Flags.SellWithNoReceive)
	assert.True(t, res.IsCorrupted)
}

func TestParseDelta_ImpossibleROI(t *testing.T) {
	primary := solana.NewStubRPCClient()
	// Entry 0.1 SOL, receipt 2 SOL: 1900% ROI.
	primary.AddTransaction(makeTx(8_000_000_000, 10_000_000_000, 5_000))

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeSell, decimal.NewFromFloat(0.1))
	require.NoError(t, err)

	assert.True(t, res.Flags.ImpossibleROI)
	assert.True(t, res.IsCorrupted)
}

func TestParseDelta_WSOLWrapExcludedFromSpend(t *testing.T) {
	primary := solana.NewStubRPCClient()
	tx := makeTx(10_000_000_000, 9_500_000_000, 5_000)
	// 0.3 of the 0.5 SOL outflow is still held as wrapped SOL.
	tx.Meta.PostTokenBalances = []solana.TokenBalance{
		{AccountIndex: 1, Mint: solana.WSOLMint, Owner: testWallet, Amount: decimal.NewFromFloat(0.3)},
	}
	primary.AddTransaction(tx)

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, "0.199995", res.SolSpent.String())
	assert.True(t, res.Flags.WSOLNoiseDetected)
}

func TestParseDelta_RentMovements(t *testing.T) {
	primary := solana.NewStubRPCClient()
	tx := makeTx(10_000_000_000, 9_500_000_000, 5_000)
	tx.Meta.InnerInstructions = []solana.InnerInstructionSet{{
		Index: 0,
		Instructions: []solana.ParsedInstruction{
			{
				Program: "system",
				Parsed: solana.InstructionDetail{
					Type: "createAccount",
					Info: solana.InstructionInfo{Source: testWallet, Lamports: 2_039_280},
				},
			},
			{
				Program: "spl-token",
				Parsed: solana.InstructionDetail{
					Type: "closeAccount",
					Info: solana.InstructionInfo{Destination: testWallet},
				},
			},
		},
	}}
	primary.AddTransaction(tx)

	p := testParser(t, primary, nil)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)

	// Rent paid and refunded cancel out: economic spend stays 0.499995.
	assert.Equal(t, "0.499995", res.SolSpent.String())
	assert.True(t, res.Flags.RentRefundDetected)
	assert.True(t, res.Flags.TempAccountDetected)
	assert.Equal(t, 1, res.Breakdown.TempAccountsCreated)
	assert.Equal(t, 1, res.Breakdown.TempAccountsClosed)
}

func TestParseDelta_RPCDeviationFlagsCorruption(t *testing.T) {
	primary := solana.NewStubRPCClient()
	primary.AddTransaction(makeTx(10_000_000_000, 9_500_000_000, 5_000))

	secondary := solana.NewStubRPCClient()
	// Independent RPC reports a balance 5% away from the tx post balance.
	secondary.SetBalance(testWallet, decimal.NewFromFloat(9.975))

	p := testParser(t, primary, secondary)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)

	assert.Greater(t, res.RPCDeviationPct, 1.0)
	assert.True(t, res.IsCorrupted)
}

func TestParseDelta_MatchingRPCsNotCorrupted(t *testing.T) {
	primary := solana.NewStubRPCClient()
	primary.AddTransaction(makeTx(10_000_000_000, 9_500_000_000, 5_000))

	secondary := solana.NewStubRPCClient()
	secondary.SetBalance(testWallet, decimal.NewFromFloat(9.5))

	p := testParser(t, primary, secondary)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)

	assert.Zero(t, res.RPCDeviationPct)
	assert.False(t, res.IsCorrupted)
}

func TestParseDelta_DeadSecondaryIsBestEffort(t *testing.T) {
	primary := solana.NewStubRPCClient()
	primary.AddTransaction(makeTx(10_000_000_000, 9_500_000_000, 5_000))

	secondary := solana.NewStubRPCClient()
	secondary.FailNext()

	p := testParser(t, primary, secondary)
	res, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.NoError(t, err)
	assert.False(t, res.IsCorrupted)
}

func TestParseDelta_WalletNotInTransaction(t *testing.T) {
	primary := solana.NewStubRPCClient()
	primary.AddTransaction(makeTx(10_000_000_000, 9_500_000_000, 5_000))

	p := testParser(t, primary, nil)
	_, err := p.ParseDelta(context.Background(), testSig, "SysvarRent111111111111111111111111111111111", TradeBuy, decimal.Zero)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in transaction")
}

func TestParseDelta_FailedTransaction(t *testing.T) {
	primary := solana.NewStubRPCClient()
	tx := makeTx(10_000_000_000, 10_000_000_000, 5_000)
	tx.Meta.Err = []byte(`{"InstructionError":[2,{"Custom":6001}]}`)
	primary.AddTransaction(tx)

	p := testParser(t, primary, nil)
	_, err := p.ParseDelta(context.Background(), testSig, testWallet, TradeBuy, decimal.Zero)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed on-chain")
}

package reputation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

func testService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(DefaultConfig(), store), store
}

func TestCalculateScore_RugRatio(t *testing.T) {
	s, _ := testService(t)

	score := s.CalculateScore(&Record{RugRatio: 0.6})
	assert.Equal(t, 50, score)

	score = s.CalculateScore(&Record{RugRatio: 0.5})
	assert.Equal(t, 100, score, "ratio at exactly 0.5 takes no penalty")
}

func TestCalculateScore_PenaltyTable(t *testing.T) {
	s, _ := testService(t)
	s.MarkClusterBad("cluster-bad")

	tests := []struct {
		name string
		rec  Record
		want int
	}{
		{"clean", Record{}, 100},
		{"short lp life", Record{AvgLiquiditySurvivalSeconds: 120}, 70},
		{"serial rugger", Record{TotalRugs: 3}, 60},
		{"known bad cluster", Record{ClusterID: "cluster-bad"}, 40},
		{"rapid deploy", Record{RapidDeployFlag: true}, 75},
		{"cluster association", Record{ClusterAssociationScore: 70}, 80},
		{"behavioral lp lifespan", Record{BehavioralLPLifespanSeconds: 100}, 85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.CalculateScore(&tt.rec))
		})
	}
}

func TestCalculateScore_ClampsAtZero(t *testing.T) {
	s, _ := testService(t)
	s.MarkClusterBad("cluster-bad")

	rec := Record{
		RugRatio:                    0.9,
		TotalRugs:                   5,
		AvgLiquiditySurvivalSeconds: 60,
		ClusterID:                   "cluster-bad",
		RapidDeployFlag:             true,
	}
	assert.Equal(t, 0, s.CalculateScore(&rec))
}

func TestEffectiveScore_NeverAboveStored(t *testing.T) {
	s, store := testService(t)

	// Stored score lower than a fresh recalculation would produce.
	require.NoError(t, store.Upsert(context.Background(), &Record{
		WalletAddress:   testWallet,
		ReputationScore: 30,
	}))

	score, _ := s.EffectiveScore(context.Background(), testWallet)
	assert.Equal(t, 30, score, "reputation must not silently improve")
}

func TestEffectiveScore_TakesLowerRecalculation(t *testing.T) {
	s, store := testService(t)

	require.NoError(t, store.Upsert(context.Background(), &Record{
		WalletAddress:   testWallet,
		ReputationScore: 95,
		RugRatio:        0.6,
	}))

	score, _ := s.EffectiveScore(context.Background(), testWallet)
	assert.Equal(t, 50, score)
}

func TestFetchOrDefault_NewDeployerIsClean(t *testing.T) {
	s, _ := testService(t)

	rec := s.FetchOrDefault(context.Background(), testWallet)
	assert.Equal(t, 100, rec.ReputationScore)
	assert.Equal(t, testWallet, rec.WalletAddress)
}

func TestFetchOrDefault_StoreFailureDefaults(t *testing.T) {
	s, store := testService(t)
	store.FailReads(true)

	rec := s.FetchOrDefault(context.Background(), testWallet)
	assert.Equal(t, 100, rec.ReputationScore)
}

func TestRecordRugPull_RollingAverage(t *testing.T) {
	s, store := testService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRugPull(ctx, testWallet, 100))
	require.NoError(t, s.RecordRugPull(ctx, testWallet, 300))

	rec, err := store.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TotalRugs)
	assert.InDelta(t, 200, rec.AvgLiquiditySurvivalSeconds, 0.001)
}

func TestRecordRugPull_DropsScore(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRugPull(ctx, testWallet, 120))

	score, _ := s.EffectiveScore(ctx, testWallet)
	// rug ratio 1.0 (-50), short avg survival (-30), short behavioral (-15)
	assert.Equal(t, 5, score)
}

func TestRecordTokenDeployment_RapidDeployFlag(t *testing.T) {
	s, store := testService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordTokenDeployment(ctx, testWallet))
	}

	rec, err := store.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.True(t, rec.RapidDeployFlag)
	assert.Equal(t, 5, rec.TotalTokensCreated)
}

func TestLoadKnownBadClusters_SeedsFromLowScores(t *testing.T) {
	s, store := testService(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Record{
		WalletAddress:   "walletA",
		ClusterID:       "cluster-7",
		ReputationScore: 10,
	}))
	require.NoError(t, store.Upsert(ctx, &Record{
		WalletAddress:   "walletB",
		ClusterID:       "cluster-8",
		ReputationScore: 90,
	}))

	require.NoError(t, s.LoadKnownBadClusters(ctx))
	assert.True(t, s.IsKnownBadCluster("cluster-7"))
	assert.False(t, s.IsKnownBadCluster("cluster-8"))
}

func TestAssignCluster_BadForcesLowScore(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, s.AssignCluster(ctx, testWallet, "cluster-9", true))

	score, _ := s.EffectiveScore(ctx, testWallet)
	assert.LessOrEqual(t, score, 40)
}

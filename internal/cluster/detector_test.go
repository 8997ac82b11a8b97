package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts() int64 { return time.Now().Unix() }

func TestAddTransfer_DustIgnored(t *testing.T) {
	e := NewEngine(DefaultConfig())

	e.AddTransfer("funder", "wallet-a", 0.001, ts())
	assert.Zero(t, e.NodeCount())

	e.AddTransfer("funder", "wallet-a", 0.5, ts())
	assert.Equal(t, 2, e.NodeCount())
}

func TestAddTransfer_CEXFirewall(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Funding through a Binance hot wallet must not link anyone.
	e.AddTransfer("5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9", "wallet-a", 10, ts())
	e.AddTransfer("5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9", "wallet-b", 10, ts())

	a, err := e.CheckBuyerCluster(context.Background(), "wallet-a", "wallet-b")
	require.NoError(t, err)
	assert.Zero(t, a.ClusterID)
	assert.Zero(t, a.AssociationScore)
}

func TestCheckBuyerCluster_SharedFunderClusters(t *testing.T) {
	e := NewEngine(DefaultConfig())

	e.AddTransfer("funder", "wallet-a", 1, ts())
	e.AddTransfer("funder", "wallet-b", 1, ts())

	a, err := e.CheckBuyerCluster(context.Background(), "wallet-a", "")
	require.NoError(t, err)
	b, err := e.CheckBuyerCluster(context.Background(), "wallet-b", "")
	require.NoError(t, err)

	assert.NotZero(t, a.ClusterID)
	assert.Equal(t, a.ClusterID, b.ClusterID)
	assert.Equal(t, "funder", a.SeedFunder)
	assert.Equal(t, 3, a.ClusterSize) // funder plus two funded wallets
}

func TestCheckBuyerCluster_AssociationByHops(t *testing.T) {
	e := NewEngine(DefaultConfig())

	e.AddTransfer("deployer", "buyer-direct", 1, ts())
	e.AddTransfer("deployer", "middle", 1, ts())
	e.AddTransfer("middle", "buyer-hop2", 1, ts())

	direct, err := e.CheckBuyerCluster(context.Background(), "buyer-direct", "deployer")
	require.NoError(t, err)
	assert.Equal(t, float64(100), direct.AssociationScore)

	hop2, err := e.CheckBuyerCluster(context.Background(), "buyer-hop2", "deployer")
	require.NoError(t, err)
	assert.Equal(t, float64(70), hop2.AssociationScore)

	stranger, err := e.CheckBuyerCluster(context.Background(), "unrelated", "deployer")
	require.NoError(t, err)
	assert.Zero(t, stranger.AssociationScore)
}

func TestCheckBuyerCluster_WashClusterFlag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SybilClusterMin = 5
	e := NewEngine(cfg)

	for i := 0; i < 6; i++ {
		e.AddTransfer("seeder", fmt.Sprintf("sybil-%d", i), 0.2, ts())
	}

	r, err := e.CheckBuyerCluster(context.Background(), "sybil-0", "")
	require.NoError(t, err)
	assert.True(t, r.WashCluster)
	assert.GreaterOrEqual(t, r.ClusterSize, 5)
}

func TestMarkBadCluster(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.AddTransfer("funder", "wallet-a", 1, ts())

	r, err := e.CheckBuyerCluster(context.Background(), "wallet-a", "")
	require.NoError(t, err)
	require.False(t, r.KnownBad)

	e.MarkBadCluster(r.ClusterID)
	r, err = e.CheckBuyerCluster(context.Background(), "wallet-a", "")
	require.NoError(t, err)
	assert.True(t, r.KnownBad)
}

func TestCheckBuyerCluster_UnknownWalletIsClean(t *testing.T) {
	e := NewEngine(DefaultConfig())

	r, err := e.CheckBuyerCluster(context.Background(), "never-seen", "deployer")
	require.NoError(t, err)
	assert.Zero(t, r.ClusterID)
	assert.False(t, r.KnownBad)
	assert.False(t, r.WashCluster)
}

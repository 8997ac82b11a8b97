package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Wallet Funding-Graph Cluster Detector
// In-memory graph over SOL funding transfers. Detects wash-buyer clusters
// (many wallets seeded by one funder) and buyer-deployer association.
// ---------------------------------------------------------------------------

// Report is the verdict for a buyer wallet.
type Report struct {
	BuyerAddress     string  `json:"buyer_address"`
	ClusterID        uint32  `json:"cluster_id"`
	ClusterSize      int     `json:"cluster_size"`
	SeedFunder       string  `json:"seed_funder,omitempty"`
	AssociationScore float64 `json:"association_score"` // 0-100, buyer <-> deployer linkage
	KnownBad         bool    `json:"known_bad"`
	WashCluster      bool    `json:"wash_cluster"` // cluster size over the sybil threshold
	QueryTimeNs      int64   `json:"query_time_ns"`
}

// Detector is the collaborator the gate's buyer-cluster rule delegates to.
type Detector interface {
	CheckBuyerCluster(ctx context.Context, buyer, deployer string) (Report, error)
}

// Config configures the cluster engine.
type Config struct {
	DustThreshold   float64 `yaml:"dust_threshold"`     // ignore transfers < this (SOL)
	HighTxThreshold int     `yaml:"high_tx_threshold"`  // ignore edges to popular nodes
	SybilClusterMin int     `yaml:"sybil_cluster_min"`  // min wallets for wash-cluster flag
	MaxEdgesPerNode int     `yaml:"max_edges_per_node"`
	MaxHops         int     `yaml:"max_hops"` // BFS depth for association
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DustThreshold:   0.01,
		HighTxThreshold: 10_000,
		SybilClusterMin: 20,
		MaxEdgesPerNode: 200,
		MaxHops:         3,
	}
}

type node struct {
	address   string
	clusterID uint32
	txCount   int
	funder    string // first wallet that funded this one
	firstSeen int64
}

type edge struct {
	from   string
	to     string
	amount float64
	ts     int64
}

// Engine is the in-memory funding graph.
type Engine struct {
	config Config

	mu          sync.RWMutex
	nodes       map[string]*node
	adjOut      map[string][]edge
	adjIn       map[string][]edge
	clusterSize map[uint32]int
	badClusters map[uint32]bool
	cexAddrs    map[string]bool

	nextCluster atomic.Uint32
	queryCount  atomic.Int64
}

// NewEngine creates a cluster engine.
func NewEngine(config Config) *Engine {
	if config.DustThreshold == 0 {
		config.DustThreshold = 0.01
	}
	if config.SybilClusterMin == 0 {
		config.SybilClusterMin = 20
	}
	if config.MaxHops == 0 {
		config.MaxHops = 3
	}
	if config.MaxEdgesPerNode == 0 {
		config.MaxEdgesPerNode = 200
	}
	e := &Engine{
		config:      config,
		nodes:       make(map[string]*node),
		adjOut:      make(map[string][]edge),
		adjIn:       make(map[string][]edge),
		clusterSize: make(map[uint32]int),
		badClusters: make(map[uint32]bool),
		cexAddrs:    make(map[string]bool),
	}
	for _, addr := range knownCEXWallets {
		e.cexAddrs[addr] = true
	}
	return e
}

// Compile-time interface check.
var _ Detector = (*Engine)(nil)

// AddTransfer records a SOL funding transfer between wallets.
func (e *Engine) AddTransfer(from, to string, amountSOL float64, timestamp int64) {
	// Anti-poisoning: ignore dust.
	if amountSOL < e.config.DustThreshold {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// CEX firewall: never link wallets through exchange hot wallets.
	if e.cexAddrs[from] || e.cexAddrs[to] {
		return
	}

	src := e.ensureNode(from, timestamp)
	dst := e.ensureNode(to, timestamp)
	src.txCount++
	dst.txCount++

	// Ignore fan-in to popular nodes; they link everyone to everyone.
	if src.txCount > e.config.HighTxThreshold || dst.txCount > e.config.HighTxThreshold {
		return
	}

	if len(e.adjOut[from]) < e.config.MaxEdgesPerNode {
		e.adjOut[from] = append(e.adjOut[from], edge{from: from, to: to, amount: amountSOL, ts: timestamp})
	}
	if len(e.adjIn[to]) < e.config.MaxEdgesPerNode {
		e.adjIn[to] = append(e.adjIn[to], edge{from: from, to: to, amount: amountSOL, ts: timestamp})
	}

	// First funder wins: it defines the wallet's seed and cluster.
	if dst.funder == "" {
		dst.funder = from
		e.assignCluster(src, dst)
	}
}

func (e *Engine) ensureNode(addr string, ts int64) *node {
	n, ok := e.nodes[addr]
	if !ok {
		n = &node{address: addr, firstSeen: ts}
		e.nodes[addr] = n
	}
	return n
}

// assignCluster puts the funded wallet into its funder's cluster,
// creating one if the funder has none yet.
func (e *Engine) assignCluster(funder, funded *node) {
	if funder.clusterID == 0 {
		funder.clusterID = e.nextCluster.Add(1)
		e.clusterSize[funder.clusterID] = 1
	}
	if funded.clusterID == 0 {
		funded.clusterID = funder.clusterID
		e.clusterSize[funder.clusterID]++
	}
}

// MarkBadCluster flags a cluster as known-bad (confirmed wash/rug ring).
func (e *Engine) MarkBadCluster(clusterID uint32) {
	e.mu.Lock()
	e.badClusters[clusterID] = true
	e.mu.Unlock()
}

// CheckBuyerCluster analyzes a buyer wallet's funding neighborhood and
// its linkage to the token deployer.
func (e *Engine) CheckBuyerCluster(_ context.Context, buyer, deployer string) (Report, error) {
	start := time.Now()
	e.queryCount.Add(1)

	e.mu.RLock()
	defer e.mu.RUnlock()

	report := Report{BuyerAddress: buyer}

	n, ok := e.nodes[buyer]
	if ok {
		report.ClusterID = n.clusterID
		report.ClusterSize = e.clusterSize[n.clusterID]
		report.SeedFunder = n.funder
		report.KnownBad = e.badClusters[n.clusterID]
		report.WashCluster = report.ClusterSize >= e.config.SybilClusterMin
	}

	if deployer != "" {
		hops := e.hopsBetween(buyer, deployer)
		switch hops {
		case 1:
			report.AssociationScore = 100
		case 2:
			report.AssociationScore = 70
		case 3:
			report.AssociationScore = 40
		}
	}

	report.QueryTimeNs = time.Since(start).Nanoseconds()
	return report, nil
}

// hopsBetween runs a bounded undirected BFS over funding edges.
// Returns 0 when no path exists within MaxHops.
func (e *Engine) hopsBetween(a, b string) int {
	if a == b {
		return 1
	}
	visited := map[string]bool{a: true}
	frontier := []string{a}

	for depth := 1; depth <= e.config.MaxHops; depth++ {
		var next []string
		for _, addr := range frontier {
			for _, ed := range e.adjOut[addr] {
				if ed.to == b {
					return depth
				}
				if !visited[ed.to] {
					visited[ed.to] = true
					next = append(next, ed.to)
				}
			}
			for _, ed := range e.adjIn[addr] {
				if ed.from == b {
					return depth
				}
				if !visited[ed.from] {
					visited[ed.from] = true
					next = append(next, ed.from)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return 0
}

// NodeCount returns the number of wallets in the graph.
func (e *Engine) NodeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.nodes)
}

// knownCEXWallets are Solana exchange hot wallets excluded from linkage.
var knownCEXWallets = []string{
	"5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9", // Binance
	"ASTyfSima4LLAdDgoFGkgqoKowG1LZFDr9fAQrg7iaJZ", // Coinbase
	"2ojv9BAiHUrvsm9gxDe7fJSzbNZSJcxZvf8dqmWGHG8S", // OKX
	"H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS", // Kraken
}

package reputation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Deployer Reputation Service
// Scores a deployer wallet from persisted launch history. The effective
// score used by the gate is min(stored, recalculated): reputation never
// silently improves without a qualifying event.
// ---------------------------------------------------------------------------

// ErrNotFound is returned by stores when no record exists for a wallet.
var ErrNotFound = errors.New("reputation: record not found")

// Record is the persisted reputation state of a deployer wallet.
type Record struct {
	WalletAddress               string    `json:"wallet_address"`
	TotalTokensCreated          int       `json:"total_tokens_created"`
	TotalRugs                   int       `json:"total_rugs"`
	RugRatio                    float64   `json:"rug_ratio"`
	AvgLiquiditySurvivalSeconds float64   `json:"avg_liquidity_survival_seconds"`
	ClusterID                   string    `json:"cluster_id,omitempty"`
	ReputationScore             int       `json:"reputation_score"` // 0-100
	TokensLast7d                int       `json:"tokens_last_7d"`
	RapidDeployFlag             bool      `json:"rapid_deploy_flag"`
	ClusterAssociationScore     float64   `json:"cluster_association_score"`
	BehavioralLPLifespanSeconds float64   `json:"behavioral_lp_lifespan_seconds"`
	UpdatedAt                   time.Time `json:"updated_at"`
}

// Store persists reputation records.
type Store interface {
	Get(ctx context.Context, wallet string) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
	// LowScoreClusterIDs returns the cluster IDs of records at or below
	// maxScore, for seeding the known-bad set at startup.
	LowScoreClusterIDs(ctx context.Context, maxScore int) ([]string, error)
}

// Config configures the reputation service.
type Config struct {
	RapidDeployThreshold int `yaml:"rapid_deploy_threshold"` // tokens in 7d to flag
	SeedMaxScore         int `yaml:"seed_max_score"`         // score ceiling for known-bad seeding
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RapidDeployThreshold: 5,
		SeedMaxScore:         20,
	}
}

// Service reads and maintains deployer reputation.
type Service struct {
	config Config
	store  Store

	mu               sync.RWMutex
	knownBadClusters map[string]bool

	now func() time.Time

	// Stats.
	fetches      atomic.Int64
	defaults     atomic.Int64
	rugsRecorded atomic.Int64
	writeErrors  atomic.Int64
}

// NewService creates a reputation service.
func NewService(config Config, store Store) *Service {
	if config.RapidDeployThreshold == 0 {
		config.RapidDeployThreshold = 5
	}
	if config.SeedMaxScore == 0 {
		config.SeedMaxScore = 20
	}
	return &Service{
		config:           config,
		store:            store,
		knownBadClusters: make(map[string]bool),
		now:              time.Now,
	}
}

// LoadKnownBadClusters seeds the known-bad cluster set from persisted
// records with very low scores. Called once at startup.
func (s *Service) LoadKnownBadClusters(ctx context.Context) error {
	ids, err := s.store.LowScoreClusterIDs(ctx, s.config.SeedMaxScore)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, id := range ids {
		if id != "" {
			s.knownBadClusters[id] = true
		}
	}
	count := len(s.knownBadClusters)
	s.mu.Unlock()

	log.Info().Int("clusters", count).Msg("reputation: known-bad clusters loaded")
	return nil
}

// MarkClusterBad adds a cluster ID to the known-bad set. Admin tooling.
func (s *Service) MarkClusterBad(clusterID string) {
	if clusterID == "" {
		return
	}
	s.mu.Lock()
	s.knownBadClusters[clusterID] = true
	s.mu.Unlock()
}

// IsKnownBadCluster reports whether a cluster ID is in the known-bad set.
func (s *Service) IsKnownBadCluster(clusterID string) bool {
	if clusterID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knownBadClusters[clusterID]
}

// FetchOrDefault loads the record for a wallet, or returns a fresh record
// with a clean score for a never-seen deployer.
func (s *Service) FetchOrDefault(ctx context.Context, wallet string) *Record {
	s.fetches.Add(1)
	rec, err := s.store.Get(ctx, wallet)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			// Read failures default too: reputation is advisory input, a
			// dead store must not crash admission.
			log.Warn().Err(err).Str("wallet", wallet).Msg("reputation: store read failed, defaulting")
		}
		s.defaults.Add(1)
		return &Record{
			WalletAddress:   wallet,
			ReputationScore: 100,
			UpdatedAt:       s.now(),
		}
	}
	return rec
}

// EffectiveScore returns min(stored, recalculated) for a wallet, plus the
// record it was derived from.
func (s *Service) EffectiveScore(ctx context.Context, wallet string) (int, *Record) {
	rec := s.FetchOrDefault(ctx, wallet)
	recalc := s.CalculateScore(rec)
	if recalc < rec.ReputationScore {
		return recalc, rec
	}
	return rec.ReputationScore, rec
}

// CalculateScore recomputes a reputation score from the penalty table.
func (s *Service) CalculateScore(rec *Record) int {
	score := 100

	if rec.RugRatio > 0.5 {
		score -= 50
	}
	if rec.AvgLiquiditySurvivalSeconds > 0 && rec.AvgLiquiditySurvivalSeconds < 300 {
		score -= 30
	}
	if rec.TotalRugs >= 3 {
		score -= 40
	}
	if s.IsKnownBadCluster(rec.ClusterID) {
		score -= 60
	}
	if rec.RapidDeployFlag {
		score -= 25
	}
	if rec.ClusterAssociationScore > 60 {
		score -= 20
	}
	if rec.BehavioralLPLifespanSeconds > 0 && rec.BehavioralLPLifespanSeconds < 300 {
		score -= 15
	}

	if score < 0 {
		score = 0
	}
	return score
}

// RecordTokenDeployment registers a new token launch by a wallet.
func (s *Service) RecordTokenDeployment(ctx context.Context, wallet string) error {
	rec := s.FetchOrDefault(ctx, wallet)
	rec.TotalTokensCreated++
	rec.TokensLast7d++
	if rec.TokensLast7d >= s.config.RapidDeployThreshold {
		rec.RapidDeployFlag = true
	}
	if rec.TotalTokensCreated > 0 {
		rec.RugRatio = float64(rec.TotalRugs) / float64(rec.TotalTokensCreated)
	}
	rec.ReputationScore = s.CalculateScore(rec)
	rec.UpdatedAt = s.now()
	return s.persist(ctx, rec)
}

// RecordRugPull registers a rug attributed to the wallet, folding the
// observed liquidity survival time into the rolling average.
func (s *Service) RecordRugPull(ctx context.Context, wallet string, liquiditySurvivalSeconds float64) error {
	rec := s.FetchOrDefault(ctx, wallet)

	oldCount := rec.TotalRugs
	rec.TotalRugs++
	rec.AvgLiquiditySurvivalSeconds =
		(rec.AvgLiquiditySurvivalSeconds*float64(oldCount) + liquiditySurvivalSeconds) / float64(oldCount+1)
	rec.BehavioralLPLifespanSeconds = liquiditySurvivalSeconds

	if rec.TotalTokensCreated < rec.TotalRugs {
		rec.TotalTokensCreated = rec.TotalRugs
	}
	rec.RugRatio = float64(rec.TotalRugs) / float64(rec.TotalTokensCreated)
	rec.ReputationScore = s.CalculateScore(rec)
	rec.UpdatedAt = s.now()

	s.rugsRecorded.Add(1)
	log.Warn().
		Str("wallet", wallet).
		Int("total_rugs", rec.TotalRugs).
		Float64("rug_ratio", rec.RugRatio).
		Int("score", rec.ReputationScore).
		Msg("reputation: rug recorded")

	return s.persist(ctx, rec)
}

// RecordSuccessfulToken touches the record timestamp for a token that
// closed cleanly. No score change: only negative events move reputation.
func (s *Service) RecordSuccessfulToken(ctx context.Context, wallet string) error {
	rec := s.FetchOrDefault(ctx, wallet)
	rec.UpdatedAt = s.now()
	return s.persist(ctx, rec)
}

// AssignCluster sets a wallet's cluster ID. When bad is true the cluster
// joins the known-bad set and the wallet's score is forced down.
func (s *Service) AssignCluster(ctx context.Context, wallet, clusterID string, bad bool) error {
	rec := s.FetchOrDefault(ctx, wallet)
	rec.ClusterID = clusterID
	if bad {
		s.MarkClusterBad(clusterID)
	}
	rec.ReputationScore = s.CalculateScore(rec)
	rec.UpdatedAt = s.now()
	return s.persist(ctx, rec)
}

func (s *Service) persist(ctx context.Context, rec *Record) error {
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.writeErrors.Add(1)
		log.Error().Err(err).Str("wallet", rec.WalletAddress).Msg("reputation: upsert failed")
		return err
	}
	return nil
}

// Stats returns service statistics.
type Stats struct {
	Fetches      int64 `json:"fetches"`
	Defaults     int64 `json:"defaults"`
	RugsRecorded int64 `json:"rugs_recorded"`
	WriteErrors  int64 `json:"write_errors"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Fetches:      s.fetches.Load(),
		Defaults:     s.defaults.Load(),
		RugsRecorded: s.rugsRecorded.Load(),
		WriteErrors:  s.writeErrors.Load(),
	}
}

package postgres

import (
	"context"
	"fmt"

	"github.com/sentinel-trading/sentinel/internal/reputation"
)

// ReputationStore implements reputation.Store using PostgreSQL.
type ReputationStore struct {
	pool *Pool
}

// NewReputationStore creates a new ReputationStore.
func NewReputationStore(pool *Pool) *ReputationStore {
	return &ReputationStore{pool: pool}
}

// Compile-time interface check.
var _ reputation.Store = (*ReputationStore)(nil)

// Get loads a deployer record. Returns reputation.ErrNotFound when the
// wallet has no history.
func (s *ReputationStore) Get(ctx context.Context, wallet string) (*reputation.Record, error) {
	query := `
		SELECT wallet_address, total_tokens_created, total_rugs, rug_ratio,
		       avg_liquidity_survival_seconds, cluster_id, reputation_score,
		       tokens_last_7d, rapid_deploy_flag, cluster_association_score,
		       behavioral_lp_lifespan_seconds, updated_at
		FROM deployer_reputation
		WHERE wallet_address = $1
	`

	rec := &reputation.Record{}
	err := s.pool.QueryRow(ctx, query, wallet).Scan(
		&rec.WalletAddress, &rec.TotalTokensCreated, &rec.TotalRugs, &rec.RugRatio,
		&rec.AvgLiquiditySurvivalSeconds, &rec.ClusterID, &rec.ReputationScore,
		&rec.TokensLast7d, &rec.RapidDeployFlag, &rec.ClusterAssociationScore,
		&rec.BehavioralLPLifespanSeconds, &rec.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, reputation.ErrNotFound
		}
		return nil, fmt.Errorf("get reputation record: %w", err)
	}
	return rec, nil
}

// Upsert writes a full record, inserting or overwriting by wallet.
func (s *ReputationStore) Upsert(ctx context.Context, rec *reputation.Record) error {
	query := `
		INSERT INTO deployer_reputation (
			wallet_address, total_tokens_created, total_rugs, rug_ratio,
			avg_liquidity_survival_seconds, cluster_id, reputation_score,
			tokens_last_7d, rapid_deploy_flag, cluster_association_score,
			behavioral_lp_lifespan_seconds, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (wallet_address) DO UPDATE SET
			total_tokens_created = EXCLUDED.total_tokens_created,
			total_rugs = EXCLUDED.total_rugs,
			rug_ratio = EXCLUDED.rug_ratio,
			avg_liquidity_survival_seconds = EXCLUDED.avg_liquidity_survival_seconds,
			cluster_id = EXCLUDED.cluster_id,
			reputation_score = EXCLUDED.reputation_score,
			tokens_last_7d = EXCLUDED.tokens_last_7d,
			rapid_deploy_flag = EXCLUDED.rapid_deploy_flag,
			cluster_association_score = EXCLUDED.cluster_association_score,
			behavioral_lp_lifespan_seconds = EXCLUDED.behavioral_lp_lifespan_seconds,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		rec.WalletAddress, rec.TotalTokensCreated, rec.TotalRugs, rec.RugRatio,
		rec.AvgLiquiditySurvivalSeconds, rec.ClusterID, rec.ReputationScore,
		rec.TokensLast7d, rec.RapidDeployFlag, rec.ClusterAssociationScore,
		rec.BehavioralLPLifespanSeconds, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reputation record: %w", err)
	}
	return nil
}

// LowScoreClusterIDs returns the distinct cluster IDs of wallets at or
// below maxScore, for seeding the known-bad set at startup.
func (s *ReputationStore) LowScoreClusterIDs(ctx context.Context, maxScore int) ([]string, error) {
	query := `
		SELECT DISTINCT cluster_id
		FROM deployer_reputation
		WHERE reputation_score <= $1 AND cluster_id <> ''
	`

	rows, err := s.pool.Query(ctx, query, maxScore)
	if err != nil {
		return nil, fmt.Errorf("query low score clusters: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cluster id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low score clusters: %w", err)
	}
	return ids, nil
}

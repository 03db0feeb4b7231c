package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fabioitj/gatherin/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// NewPool opens a pgx pool with NUMERIC mapped to decimal.Decimal.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store. The pool should
// come from NewPool so NUMERIC columns scan into decimal.Decimal.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// --- Snapshots ---

const snapshotColumns = `ticker, name, type,
	COALESCE(current_price, 0), COALESCE(change, 0),
	COALESCE(volume, 0), COALESCE(market_cap, 0),
	COALESCE(sector, ''), COALESCE(logo_url, ''),
	last_updated, is_active`

func (s *PostgresStore) GetSnapshots(ctx context.Context, tickers []string) (map[string]model.PriceSnapshot, error) {
	result := make(map[string]model.PriceSnapshot, len(tickers))
	if len(tickers) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM price_snapshots
		 WHERE ticker = ANY($1) AND is_active`, tickers)
	if err != nil {
		return nil, fmt.Errorf("get snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		result[snap.Ticker] = snap
	}
	return result, nil
}

func (s *PostgresStore) SearchSnapshots(ctx context.Context, assetType model.AssetType, query string, limit int) ([]model.PriceSnapshot, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM price_snapshots
		 WHERE is_active AND type = $1
		   AND ($2 = '' OR ticker ILIKE $3 OR name ILIKE $3)
		 ORDER BY ticker
		 LIMIT $4`, string(assetType), query, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func (s *PostgresStore) SnapshotStats(ctx context.Context, recentSince time.Time) (*model.SnapshotStats, error) {
	stats := &model.SnapshotStats{TopSectors: []model.SectorCount{}}

	var lastUpdate *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE type = 'STOCK'),
		        COUNT(*) FILTER (WHERE type = 'FII'),
		        MAX(last_updated),
		        COUNT(*) FILTER (WHERE last_updated >= $1)
		 FROM price_snapshots WHERE is_active`, recentSince).
		Scan(&stats.TotalActive, &stats.Stocks, &stats.FIIs, &lastUpdate, &stats.RecentlyUpdated)
	if err != nil {
		return nil, fmt.Errorf("snapshot stats: %w", err)
	}
	stats.LastUpdate = lastUpdate

	rows, err := s.pool.Query(ctx,
		`SELECT sector, COUNT(*) AS n
		 FROM price_snapshots
		 WHERE is_active AND sector IS NOT NULL AND sector <> ''
		 GROUP BY sector
		 ORDER BY n DESC, sector
		 LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top sectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc model.SectorCount
		if err := rows.Scan(&sc.Sector, &sc.Count); err != nil {
			return nil, err
		}
		stats.TopSectors = append(stats.TopSectors, sc)
	}
	return stats, rows.Err()
}

// --- Portfolios ---

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	var p model.Portfolio
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at FROM portfolios WHERE user_id = $1`, userID).
		Scan(&p.ID, &p.UserID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("portfolio for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", userID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, portfolio_id, ticker, type, quantity, average_cost, created_at, updated_at
		 FROM positions WHERE portfolio_id = $1 ORDER BY ticker`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("get positions %s: %w", p.ID, err)
	}
	defer rows.Close()

	p.Positions = []model.Position{}
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		p.Positions = append(p.Positions, *pos)
	}
	return &p, rows.Err()
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) (*model.Portfolio, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.ID, p.UserID, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create portfolio: %w", err)
	}
	// Another request may have won the race; read back whichever row exists.
	return s.GetPortfolio(ctx, p.UserID)
}

func (s *PostgresStore) AddPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, portfolio_id, ticker, type, quantity, average_cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pos.ID, pos.PortfolioID, pos.Ticker, string(pos.Type),
		pos.Quantity, pos.AverageCost, pos.CreatedAt, pos.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pos.Ticker, ErrDuplicateTicker)
	}
	return err
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, portfolioID, positionID string, quantity *int64, averageCost *decimal.Decimal) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE positions
		 SET quantity = COALESCE($3, quantity),
		     average_cost = COALESCE($4, average_cost),
		     updated_at = NOW()
		 WHERE id = $2 AND portfolio_id = $1
		 RETURNING id, portfolio_id, ticker, type, quantity, average_cost, created_at, updated_at`,
		portfolioID, positionID, quantity, nullDecimal(averageCost),
	)
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	return pos, err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, portfolioID, positionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE id = $2 AND portfolio_id = $1`, portfolioID, positionID)
	if err != nil {
		return fmt.Errorf("delete position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	return nil
}

// --- Recommendations ---

func (s *PostgresStore) ListRecommendations(ctx context.Context, minConfidence float64) ([]model.RecommendationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, base_asset, recommended_asset, similarity_score, support, confidence,
		        users_with_both, users_with_base, percentage_also_invest,
		        recommendation_strength, created_at, updated_at
		 FROM asset_recommendations
		 WHERE confidence >= $1
		 ORDER BY seq`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	records := []model.RecommendationRecord{}
	for rows.Next() {
		var r model.RecommendationRecord
		if err := rows.Scan(&r.ID, &r.BaseAsset, &r.RecommendedAsset,
			&r.SimilarityScore, &r.Support, &r.Confidence,
			&r.UsersWithBoth, &r.UsersWithBase, &r.PercentageAlsoInvest,
			&r.RecommendationStrength, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReplaceRecommendations swaps the whole set inside one transaction.
func (s *PostgresStore) ReplaceRecommendations(ctx context.Context, records []model.RecommendationRecord) (int, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM asset_recommendations`); err != nil {
			return fmt.Errorf("clear recommendations: %w", err)
		}
		var err error
		n, err = tx.CopyFrom(ctx,
			pgx.Identifier{"asset_recommendations"},
			[]string{"id", "base_asset", "recommended_asset", "similarity_score", "support",
				"confidence", "users_with_both", "users_with_base", "percentage_also_invest",
				"recommendation_strength", "created_at", "updated_at"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.ID, r.BaseAsset, r.RecommendedAsset, r.SimilarityScore, r.Support,
					r.Confidence, r.UsersWithBoth, r.UsersWithBase, r.PercentageAlsoInvest,
					r.RecommendationStrength, r.CreatedAt, r.UpdatedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("insert recommendations: %w", err)
		}
		return nil
	})
	return int(n), err
}

// --- Scan helpers ---

func scanSnapshots(rows pgx.Rows) ([]model.PriceSnapshot, error) {
	snaps := []model.PriceSnapshot{}
	for rows.Next() {
		var snap model.PriceSnapshot
		var typ string
		if err := rows.Scan(&snap.Ticker, &snap.Name, &typ,
			&snap.CurrentPrice, &snap.DayChangePercent,
			&snap.Volume, &snap.MarketCap,
			&snap.Sector, &snap.LogoURL,
			&snap.LastUpdated, &snap.IsActive); err != nil {
			return nil, err
		}
		snap.Type = model.AssetType(typ)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var pos model.Position
	var typ string
	if err := row.Scan(&pos.ID, &pos.PortfolioID, &pos.Ticker, &typ,
		&pos.Quantity, &pos.AverageCost, &pos.CreatedAt, &pos.UpdatedAt); err != nil {
		return nil, err
	}
	pos.Type = model.AssetType(typ)
	return &pos, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\\' || r == '%' || r == '_' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

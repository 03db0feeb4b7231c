// Package wallet manages a user's portfolio and its positions. Every input is
// validated before the store is touched.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/store"
	"github.com/fabioitj/gatherin/internal/ticker"
)

// ValidationError is a field-level input rejection.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wallet: invalid %s: %s", e.Field, e.Message)
}

// AddInput describes a new position.
type AddInput struct {
	Ticker      string
	Type        string
	Quantity    int64
	AverageCost decimal.Decimal
}

// UpdateInput changes a position. Nil fields are left unchanged.
type UpdateInput struct {
	Quantity    *int64
	AverageCost *decimal.Decimal
}

// Service manages portfolios over a PortfolioStore.
type Service struct {
	store store.PortfolioStore
}

// NewService creates a wallet service.
func NewService(st store.PortfolioStore) *Service {
	return &Service{store: st}
}

// GetOrCreate returns the user's portfolio, materializing an empty one on
// first access.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*model.Portfolio, error) {
	p, err := s.store.GetPortfolio(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p, err = s.store.CreatePortfolio(ctx, &model.Portfolio{
		ID:        uuid.New().String(),
		UserID:    userID,
		Positions: []model.Position{},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create portfolio: %w", err)
	}
	slog.Info("portfolio created", "user", userID, "id", p.ID)
	return p, nil
}

// AddPosition adds a new holding. A ticker already held fails with
// store.ErrDuplicateTicker; positions are never merged.
func (s *Service) AddPosition(ctx context.Context, userID string, in AddInput) (*model.Position, error) {
	tk, assetType, err := validateAdd(in)
	if err != nil {
		return nil, err
	}

	p, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, existing := range p.Positions {
		if strings.EqualFold(existing.Ticker, tk) {
			return nil, fmt.Errorf("%s: %w", tk, store.ErrDuplicateTicker)
		}
	}

	now := time.Now().UTC()
	pos := &model.Position{
		ID:          uuid.New().String(),
		PortfolioID: p.ID,
		Ticker:      tk,
		Type:        assetType,
		Quantity:    in.Quantity,
		AverageCost: in.AverageCost,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.AddPosition(ctx, pos); err != nil {
		return nil, err
	}

	slog.Info("position added",
		"user", userID,
		"ticker", tk,
		"quantity", in.Quantity,
		"average_cost", in.AverageCost.String(),
	)
	return pos, nil
}

// UpdatePosition changes quantity and/or average cost of a position the
// user owns.
func (s *Service) UpdatePosition(ctx context.Context, userID, positionID string, in UpdateInput) (*model.Position, error) {
	if in.Quantity == nil && in.AverageCost == nil {
		return nil, &ValidationError{Field: "body", Message: "quantity or averagePrice is required"}
	}
	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be a positive integer"}
	}
	if in.AverageCost != nil && !in.AverageCost.IsPositive() {
		return nil, &ValidationError{Field: "averagePrice", Message: "must be positive"}
	}

	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.UpdatePosition(ctx, p.ID, positionID, in.Quantity, in.AverageCost)
}

// DeletePosition removes a position the user owns.
func (s *Service) DeletePosition(ctx context.Context, userID, positionID string) error {
	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeletePosition(ctx, p.ID, positionID); err != nil {
		return err
	}
	slog.Info("position deleted", "user", userID, "position", positionID)
	return nil
}

// HeldTickers returns the user's held tickers; empty when the user has no
// portfolio yet.
func (s *Service) HeldTickers(ctx context.Context, userID string) ([]string, error) {
	p, err := s.store.GetPortfolio(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ticker.NormalizeSet(p.Tickers()), nil
}

func validateAdd(in AddInput) (string, model.AssetType, error) {
	tk := ticker.Normalize(in.Ticker)
	if err := ticker.Validate(tk); err != nil {
		return "", "", &ValidationError{Field: "ticker", Message: err.Error()}
	}
	assetType, err := model.ParseAssetType(in.Type)
	if err != nil {
		return "", "", &ValidationError{Field: "type", Message: "must be STOCK or FII"}
	}
	if in.Quantity <= 0 {
		return "", "", &ValidationError{Field: "quantity", Message: "must be a positive integer"}
	}
	if !in.AverageCost.IsPositive() {
		return "", "", &ValidationError{Field: "averagePrice", Message: "must be positive"}
	}
	return tk, assetType, nil
}

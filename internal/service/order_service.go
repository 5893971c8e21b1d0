package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/config"
	"github.com/carbex/carbex/internal/domain"
)

// OrderService handles resting limit orders: the liquidity market
// executions consume. Placement reserves the backing funds, a cancel
// releases them; resting orders never match each other.
type OrderService struct {
	users  domain.UserStore
	orders domain.OrderStore
	audit  domain.AuditStore
	market *MarketService
	cfg    config.MarketConfig
	logger *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	users domain.UserStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	marketSvc *MarketService,
	cfg config.MarketConfig,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		users:  users,
		orders: orders,
		audit:  audit,
		market: marketSvc,
		cfg:    cfg,
		logger: logger,
	}
}

// PlaceParams carries a validated limit order request.
type PlaceParams struct {
	Certificate domain.CertificateType
	Side        domain.OrderSide
	Price       decimal.Decimal
	Quantity    decimal.Decimal
}

// Place puts a limit order on the board. The store reserves the
// backing funds (EUR for bids, certificates for asks) in the same
// transaction as the order row.
func (s *OrderService) Place(ctx context.Context, userID string, p PlaceParams) (domain.Order, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get user %q: %w", userID, err)
	}
	if !u.Active {
		return domain.Order{}, fmt.Errorf("order_service: %w: account deactivated", domain.ErrForbidden)
	}
	if u.KYCStatus != domain.KYCApproved {
		return domain.Order{}, domain.ErrKYCRequired
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		SellerCode:  u.SellerCode,
		Certificate: p.Certificate,
		Side:        p.Side,
		Price:       p.Price,
		Quantity:    p.Quantity,
		Remaining:   p.Quantity,
		Status:      domain.OrderStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := order.ValidateAgainst(s.instrument(p.Certificate)); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: %w", err)
	}

	placed, err := s.orders.Place(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: place order: %w", err)
	}

	s.market.ApplyOrderDelta(ctx, placed, placed.Remaining)

	if auditErr := s.audit.Log(ctx, "order.place", userID, map[string]any{
		"order_id":    placed.ID,
		"certificate": string(placed.Certificate),
		"side":        string(placed.Side),
		"price":       placed.Price.String(),
		"quantity":    placed.Quantity.String(),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("order_id", placed.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order_service: order placed",
		slog.String("order_id", placed.ID),
		slog.String("certificate", string(placed.Certificate)),
		slog.String("side", string(placed.Side)),
	)
	return placed, nil
}

// Cancel closes the caller's open order and releases its reservation.
func (s *OrderService) Cancel(ctx context.Context, id, userID string) (domain.Order, error) {
	cancelled, err := s.orders.Cancel(ctx, id, userID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel order %q: %w", id, err)
	}

	s.market.ApplyOrderDelta(ctx, cancelled, cancelled.Remaining.Neg())

	if auditErr := s.audit.Log(ctx, "order.cancel", userID, map[string]any{
		"order_id": cancelled.ID,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("order_id", cancelled.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order_service: order cancelled",
		slog.String("order_id", cancelled.ID),
	)
	return cancelled, nil
}

// List returns the caller's orders, newest first, optionally narrowed
// by certificate, side or status.
func (s *OrderService) List(ctx context.Context, userID string, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error) {
	filter.UserID = userID
	orders, err := s.orders.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders: %w", err)
	}
	return orders, nil
}

// instrument returns the trading parameters for a certificate with
// the configured lot step and tick applied.
func (s *OrderService) instrument(cert domain.CertificateType) domain.Instrument {
	inst := domain.DefaultInstrument(cert)
	if s.cfg.LotStep.IsPositive() {
		inst.LotStep = s.cfg.LotStep
	}
	if s.cfg.PriceTick.IsPositive() {
		inst.PriceTick = s.cfg.PriceTick
	}
	return inst
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/config"
	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/market"
	"github.com/carbex/carbex/internal/metrics"
	"github.com/carbex/carbex/internal/notify"
)

// executionsStream is the durable stream carrying every settled
// execution for downstream consumers.
const executionsStream = "executions"

// TradingService runs previews and market executions. Preview and
// execution share the calculator in the market package; the execution
// path recomputes against rows locked by the store and never trusts
// numbers a client saw earlier.
type TradingService struct {
	users      domain.UserStore
	execs      domain.ExecutionStore
	trades     domain.TradeStore
	idem       domain.IdempotencyStore
	locks      domain.LockManager
	limiter    domain.RateLimiter
	bus        domain.SignalBus
	audit      domain.AuditStore
	notifier   *notify.Notifier
	market     *MarketService
	cfg        config.MarketConfig
	ratePerMin int
	logger     *slog.Logger
}

// NewTradingService creates a TradingService with all required dependencies.
func NewTradingService(
	users domain.UserStore,
	execs domain.ExecutionStore,
	trades domain.TradeStore,
	idem domain.IdempotencyStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	marketSvc *MarketService,
	cfg config.MarketConfig,
	ratePerMin int,
	logger *slog.Logger,
) *TradingService {
	return &TradingService{
		users:      users,
		execs:      execs,
		trades:     trades,
		idem:       idem,
		locks:      locks,
		limiter:    limiter,
		bus:        bus,
		audit:      audit,
		notifier:   notifier,
		market:     marketSvc,
		cfg:        cfg,
		ratePerMin: ratePerMin,
		logger:     logger,
	}
}

// Preview computes the cost breakdown of a hypothetical market order
// against the live book. Open to any authenticated user; no funds are
// checked and nothing is persisted.
func (s *TradingService) Preview(ctx context.Context, cert domain.CertificateType, side domain.OrderSide, amount decimal.Decimal, allOrNone bool) (domain.OrderPreview, error) {
	if !cert.Valid() {
		return domain.OrderPreview{}, fmt.Errorf("trading_service: %w: unknown certificate", domain.ErrInvalidOrder)
	}

	levels, err := s.market.Levels(cert, side.Opposite())
	if err != nil {
		return domain.OrderPreview{}, err
	}
	return s.previewFunc(cert, side, amount, allOrNone)(levels), nil
}

// previewFunc binds the calculator to one request's parameters. The
// same closure previews against the cached book and recomputes inside
// the execution transaction.
func (s *TradingService) previewFunc(cert domain.CertificateType, side domain.OrderSide, amount decimal.Decimal, allOrNone bool) domain.PreviewFunc {
	if side == domain.OrderSideBuy {
		return func(levels []domain.PriceLevel) domain.OrderPreview {
			return market.ComputeBuyPreview(levels, market.BuyParams{
				Certificate: cert,
				Budget:      amount,
				FeeRate:     s.cfg.FeeRate,
				LotStep:     s.cfg.LotStep,
				AllOrNone:   allOrNone,
			})
		}
	}
	return func(levels []domain.PriceLevel) domain.OrderPreview {
		return market.ComputeSellPreview(levels, market.SellParams{
			Certificate: cert,
			Quantity:    amount,
			FeeRate:     s.cfg.FeeRate,
			LotStep:     s.cfg.LotStep,
			AllOrNone:   allOrNone,
		})
	}
}

// ExecuteParams carries a validated market order request.
type ExecuteParams struct {
	Certificate    domain.CertificateType
	Side           domain.OrderSide
	Amount         decimal.Decimal // EUR budget (buy) or quantity (sell)
	AllOrNone      bool
	IdempotencyKey string
}

// Execute runs a market order end to end. Rejections (no liquidity,
// no funds) come back as a rejected execution in the outcome, not as
// an error; errors mean the request never reached a decision.
func (s *TradingService) Execute(ctx context.Context, userID string, p ExecuteParams) (*domain.ExecutionOutcome, error) {
	if !p.Certificate.Valid() || !p.Amount.IsPositive() {
		return nil, fmt.Errorf("trading_service: %w", domain.ErrInvalidOrder)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("trading_service: get user %q: %w", userID, err)
	}
	if !u.Active {
		return nil, fmt.Errorf("trading_service: %w: account deactivated", domain.ErrForbidden)
	}
	if u.KYCStatus != domain.KYCApproved {
		return nil, domain.ErrKYCRequired
	}

	// Step 1: idempotency claim. A completed claim replays the
	// recorded outcome; a pending one means a duplicate in flight.
	fresh := false
	if p.IdempotencyKey != "" {
		execID, isFresh, err := s.idem.Reserve(ctx, userID, p.IdempotencyKey, s.cfg.ExecLockTTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("trading_service: idempotency reserve: %w", err)
		}
		if !isFresh {
			if execID == "" {
				return nil, domain.ErrExecutionInProgress
			}
			return s.replay(ctx, execID, userID, p.IdempotencyKey)
		}
		fresh = true
	}

	completed := false
	defer func() {
		// A failed attempt must not hold the key; the client retries
		// with the same one.
		if fresh && !completed {
			if relErr := s.idem.Release(context.WithoutCancel(ctx), userID, p.IdempotencyKey); relErr != nil {
				s.logger.WarnContext(ctx, "trading_service: idempotency release failed",
					slog.String("user_id", userID),
					slog.String("error", relErr.Error()),
				)
			}
		}
	}()

	// Step 2: one execution per user at a time.
	unlock, err := s.locks.Acquire(ctx, "exec:"+userID, s.cfg.ExecLockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrExecutionInProgress
		}
		return nil, fmt.Errorf("trading_service: acquire execution lock: %w", err)
	}
	defer unlock()

	// Step 3: rate limit.
	allowed, err := s.limiter.Allow(ctx, "exec:"+userID, s.ratePerMin, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("trading_service: rate limiter: %w", err)
	}
	if !allowed {
		return nil, domain.ErrRateLimited
	}

	// Step 4: the transaction. The store locks balances and the
	// opposite book side, recomputes the preview and settles.
	req := domain.ExecutionRequest{
		UserID:         userID,
		Certificate:    p.Certificate,
		Side:           p.Side,
		Amount:         p.Amount,
		AllOrNone:      p.AllOrNone,
		FeeRate:        s.cfg.FeeRate,
		LotStep:        s.cfg.LotStep,
		IdempotencyKey: p.IdempotencyKey,
	}
	outcome, err := s.execs.Apply(ctx, req, s.previewFunc(p.Certificate, p.Side, p.Amount, p.AllOrNone))
	if err != nil {
		return nil, fmt.Errorf("trading_service: apply execution: %w", err)
	}

	completed = true
	if fresh {
		if err := s.idem.Complete(ctx, userID, p.IdempotencyKey, outcome.Execution.ID, s.cfg.IdemTTL.Duration); err != nil {
			// The unique index on executions still guards replays.
			s.logger.WarnContext(ctx, "trading_service: idempotency complete failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	exec := outcome.Execution
	metrics.ExecutionsTotal.WithLabelValues(string(exec.Certificate), string(exec.Side), string(exec.Status)).Inc()

	if outcome.Replayed {
		s.auditReplay(ctx, exec.ID, userID)
		return outcome, nil
	}

	if len(outcome.Trades) > 0 {
		metrics.TradesTotal.WithLabelValues(string(exec.Certificate)).Add(float64(len(outcome.Trades)))
		s.market.ApplyFills(ctx, exec.Certificate, exec.Side, outcome.Trades)
	}

	if payload, err := json.Marshal(exec); err == nil {
		if streamErr := s.bus.StreamAppend(ctx, executionsStream, payload); streamErr != nil {
			s.logger.WarnContext(ctx, "trading_service: execution stream append failed",
				slog.String("order_id", exec.ID),
				slog.String("error", streamErr.Error()),
			)
		}
	}

	if auditErr := s.audit.Log(ctx, "execution", userID, map[string]any{
		"order_id":       exec.ID,
		"certificate":    string(exec.Certificate),
		"side":           string(exec.Side),
		"amount":         exec.Amount.String(),
		"total_quantity": exec.TotalQuantity.String(),
		"total_cost_net": exec.TotalCostNet.String(),
		"status":         string(exec.Status),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "trading_service: audit log failed",
			slog.String("order_id", exec.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	if exec.Status != domain.ExecutionStatusRejected {
		ev := domain.OpsEvent{
			Kind:    domain.EventExecution,
			Summary: fmt.Sprintf("%s %s %s executed", exec.Side, exec.TotalQuantity, exec.Certificate),
			Fields: map[string]string{
				"user":     u.Email,
				"quantity": exec.TotalQuantity.String(),
				"net":      exec.TotalCostNet.String(),
				"status":   string(exec.Status),
			},
			CreatedAt: exec.CreatedAt,
		}
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "trading_service: execution notification failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "trading_service: execution settled",
		slog.String("order_id", exec.ID),
		slog.String("certificate", string(exec.Certificate)),
		slog.String("side", string(exec.Side)),
		slog.String("status", string(exec.Status)),
		slog.Int("trades", len(outcome.Trades)),
	)
	return outcome, nil
}

// replay serves a request whose idempotency key was already completed.
func (s *TradingService) replay(ctx context.Context, execID, userID, key string) (*domain.ExecutionOutcome, error) {
	outcome, err := s.execs.GetOutcome(ctx, execID, userID)
	if err != nil {
		return nil, fmt.Errorf("trading_service: load replayed execution %q: %w", execID, err)
	}
	outcome.Replayed = true
	s.auditReplay(ctx, execID, userID)

	s.logger.InfoContext(ctx, "trading_service: execution replayed",
		slog.String("order_id", execID),
		slog.String("idempotency_key", key),
	)
	return outcome, nil
}

func (s *TradingService) auditReplay(ctx context.Context, execID, userID string) {
	if err := s.audit.Log(ctx, "execution.replay", userID, map[string]any{
		"order_id": execID,
	}); err != nil {
		s.logger.WarnContext(ctx, "trading_service: audit log failed",
			slog.String("order_id", execID),
			slog.String("error", err.Error()),
		)
	}
}

// GetExecution returns one of the caller's executions with its trades
// and current balances.
func (s *TradingService) GetExecution(ctx context.Context, id, userID string) (*domain.ExecutionOutcome, error) {
	outcome, err := s.execs.GetOutcome(ctx, id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("trading_service: get execution %q: %w", id, err)
	}
	return outcome, nil
}

// ListExecutions returns the caller's execution history.
func (s *TradingService) ListExecutions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Execution, error) {
	execs, err := s.execs.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trading_service: list executions: %w", err)
	}
	return execs, nil
}

// UserTrades returns the caller's fills, both sides.
func (s *TradingService) UserTrades(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trading_service: list trades: %w", err)
	}
	return trades, nil
}

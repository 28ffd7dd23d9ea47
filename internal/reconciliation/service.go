// Package reconciliation refreshes the status of journaled orders that were
// still working when they were recorded.
package reconciliation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-gateway/pkg/db"
	"trade-gateway/pkg/exchanges/common"
)

// ExchangeClient looks up the current state of one order.
type ExchangeClient interface {
	GetOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (common.OrderResult, error)
}

// Journal is the subset of the order journal the reconciler touches.
type Journal interface {
	ListByStatus(ctx context.Context, statuses []string, limit int) ([]db.JournalEntry, error)
	UpdateStatus(ctx context.Context, clientOrderID, status string) error
}

// pendingStatuses are the journal states that can still change on the exchange.
var pendingStatuses = []string{string(common.StatusNew), string(common.StatusPartial)}

const batchSize = 100

// Service periodically reconciles journal statuses against the exchange.
type Service struct {
	exchange ExchangeClient
	journal  Journal
	interval time.Duration
	log      *zap.Logger
	mu       sync.Mutex
}

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Checked   int            `json:"checked"`
	Updated   int            `json:"updated"`
	Failed    int            `json:"failed"`
	Changes   []StatusChange `json:"changes"`
}

// StatusChange is one journal row whose status moved.
type StatusChange struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// NewService creates a reconciler. A nil logger disables logging.
func NewService(exchange ExchangeClient, journal Journal, interval time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		exchange: exchange,
		journal:  journal,
		interval: interval,
		log:      log.Named("reconcile"),
	}
}

// Start runs Reconcile every interval until ctx is done. A non-positive
// interval leaves reconciliation to explicit calls.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					s.log.Warn("reconciliation failed", zap.Error(err))
					continue
				}
				s.handleReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("reconciliation started", zap.Duration("interval", s.interval))
}

// Reconcile queries every pending journal entry and stores any status the
// exchange has moved on to. Lookup failures for single orders are counted,
// not returned; only a journal read failure aborts the pass.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now(), Changes: []StatusChange{}}
	if s.exchange == nil {
		return report, nil
	}

	pending, err := s.journal.ListByStatus(ctx, pendingStatuses, batchSize)
	if err != nil {
		return nil, err
	}

	for _, e := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		res, err := s.exchange.GetOrder(ctx, e.Symbol, e.ExchangeOrderID, e.ClientOrderID)
		if err != nil {
			report.Failed++
			s.log.Debug("order lookup failed",
				zap.String("client_order_id", e.ClientOrderID),
				zap.String("symbol", e.Symbol),
				zap.Error(err))
			continue
		}
		to := string(res.Status)
		if res.Status == common.StatusUnknown || to == e.Status {
			continue
		}
		if err := s.journal.UpdateStatus(ctx, e.ClientOrderID, to); err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				report.Failed++
				s.log.Warn("journal status update failed",
					zap.String("client_order_id", e.ClientOrderID),
					zap.Error(err))
			}
			continue
		}
		report.Updated++
		report.Changes = append(report.Changes, StatusChange{
			ClientOrderID: e.ClientOrderID,
			Symbol:        e.Symbol,
			From:          e.Status,
			To:            to,
		})
	}
	return report, nil
}

func (s *Service) handleReport(report *Report) {
	if report.Updated == 0 && report.Failed == 0 {
		s.log.Debug("reconciliation ok", zap.Int("checked", report.Checked))
		return
	}
	for _, ch := range report.Changes {
		s.log.Info("order status changed",
			zap.String("client_order_id", ch.ClientOrderID),
			zap.String("symbol", ch.Symbol),
			zap.String("from", ch.From),
			zap.String("to", ch.To))
	}
	s.log.Info("reconciliation done",
		zap.Int("checked", report.Checked),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed))
}

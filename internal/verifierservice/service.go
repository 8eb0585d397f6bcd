// Package verifierservice runs the gateway behind a queue: it verifies each
// requested batch once, persists the receipt and publishes it.
package verifierservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zkledger/anondeposit/internal/gateway"
	"github.com/zkledger/anondeposit/internal/metrics"
	"github.com/zkledger/anondeposit/internal/receipt"
)

type Service struct {
	gw      *gateway.Verifier
	store   receipt.Store
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New wires a service. m may be nil.
func New(gw *gateway.Verifier, store receipt.Store, m *metrics.Metrics, log *slog.Logger) (*Service, error) {
	if gw == nil || store == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Service{gw: gw, store: store, metrics: m, log: log, now: time.Now}, nil
}

// Process verifies req and stores its receipt. A batch that already has a
// receipt is not verified again: the stored receipt is returned with
// replayed set.
func (s *Service) Process(ctx context.Context, req Request) (r receipt.Receipt, replayed bool, err error) {
	if err := ctx.Err(); err != nil {
		return receipt.Receipt{}, false, err
	}
	if id := receipt.BatchID(req.Payload); id != req.BatchID {
		return receipt.Receipt{}, false, fmt.Errorf("%w: batch id %s does not match payload", ErrInvalidMessage, req.BatchID.Hex())
	}

	existing, err := s.store.Get(ctx, req.BatchID)
	switch {
	case err == nil:
		s.log.Debug("deposit batch replayed", "batch_id", req.BatchID.Hex(), "status", existing.Kind.String())
		return existing, true, nil
	case !errors.Is(err, receipt.ErrNotFound):
		return receipt.Receipt{}, false, fmt.Errorf("verifierservice: load receipt: %w", err)
	}

	start := time.Now()
	out := s.gw.Run(req.Payload)
	s.metrics.ObserveBatch(out, time.Since(start))

	r = receipt.New(req.BatchID, s.gw.Params().ID(), out, s.now())
	stored, created, err := s.store.Put(ctx, r)
	if err != nil {
		return receipt.Receipt{}, false, fmt.Errorf("verifierservice: store receipt: %w", err)
	}

	s.log.Info("deposit batch verified",
		"batch_id", req.BatchID.Hex(),
		"status", out.Kind.String(),
		"failed_index", out.FailedIndex,
		"requests", out.Requests,
		"gas", out.Gas,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stored, !created, nil
}

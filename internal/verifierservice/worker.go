package verifierservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkledger/anondeposit/internal/metrics"
	"github.com/zkledger/anondeposit/internal/queue"
	"github.com/zkledger/anondeposit/internal/receipt"
	"golang.org/x/sync/semaphore"
)

type WorkerConfig struct {
	InputTopic   string
	ResultTopic  string
	FailureTopic string

	MaxInflight int
	AckTimeout  time.Duration
}

type Worker struct {
	cfg WorkerConfig

	service  *Service
	consumer queue.Consumer
	producer queue.Producer
	log      *slog.Logger

	inflight atomic.Int64
	verified atomic.Uint64
	replayed atomic.Uint64
	failed   atomic.Uint64
}

func NewWorker(cfg WorkerConfig, service *Service, consumer queue.Consumer, producer queue.Producer, log *slog.Logger) (*Worker, error) {
	if service == nil || consumer == nil || producer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 1
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.InputTopic == "" || cfg.ResultTopic == "" || cfg.FailureTopic == "" {
		return nil, fmt.Errorf("%w: input/result/failure topics are required", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:      cfg,
		service:  service,
		consumer: consumer,
		producer: producer,
		log:      log,
	}, nil
}

// Run handles messages until ctx ends or the consumer closes its message
// channel, then waits for in-flight messages. It returns the first handling
// or consume error.
func (w *Worker) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(w.cfg.MaxInflight))
	var wg sync.WaitGroup

	msgCh := w.consumer.Messages()
	errCh := w.consumer.Errors()

	var (
		firstErr   error
		firstErrMu sync.Mutex
	)
	setFirstErr := func(err error) {
		if err == nil {
			return
		}
		firstErrMu.Lock()
		defer firstErrMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}
	finish := func() error {
		wg.Wait()
		firstErrMu.Lock()
		defer firstErrMu.Unlock()
		return firstErr
	}

	for {
		select {
		case <-ctx.Done():
			return finish()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				w.log.Error("deposit-verifier queue consume error", "err", err)
				setFirstErr(err)
			}
		case msg, ok := <-msgCh:
			if !ok {
				return finish()
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return finish()
			}
			wg.Add(1)
			go func(qmsg queue.Message) {
				defer wg.Done()
				defer sem.Release(1)

				w.inflight.Add(1)
				defer w.inflight.Add(-1)
				if err := w.handleMessage(ctx, qmsg); err != nil {
					setFirstErr(err)
					w.log.Error("deposit-verifier handle message", "err", err)
				}
			}(msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queue.Message) error {
	req, err := DecodeRequest(msg.Value)
	if err != nil {
		w.log.Warn("deposit-verifier rejected message", "topic", msg.Topic, "err", err)
		if perr := w.publishFailure(ctx, Failure{ErrorCode: CodeInvalidPayload, Message: err.Error()}); perr != nil {
			return perr
		}
		w.failed.Add(1)
		w.record(msg.Timestamp, metrics.ResultInvalid)
		ackMessage(msg, w.cfg.AckTimeout, w.log)
		return nil
	}

	r, replayed, err := w.service.Process(ctx, req)
	if err != nil {
		if errors.Is(err, receipt.ErrReceiptMismatch) {
			w.log.Warn("deposit-verifier ignoring conflicting receipt for duplicate batch",
				"batch_id", req.BatchID.Hex(),
				"err", err,
			)
			ackMessage(msg, w.cfg.AckTimeout, w.log)
			return nil
		}
		if ctx.Err() != nil {
			// Left unacked so the batch is redelivered after restart.
			return nil
		}
		if perr := w.publishFailure(ctx, Failure{
			BatchID:   req.BatchID,
			ErrorCode: CodeInternal,
			Retryable: true,
			Message:   err.Error(),
		}); perr != nil {
			return perr
		}
		w.failed.Add(1)
		w.record(msg.Timestamp, metrics.ResultError)
		ackMessage(msg, w.cfg.AckTimeout, w.log)
		return nil
	}

	payload, err := receipt.Encode(r)
	if err != nil {
		return err
	}
	if err := w.producer.Publish(ctx, w.cfg.ResultTopic, r.BatchID.Bytes(), payload); err != nil {
		return err
	}
	if replayed {
		w.replayed.Add(1)
		w.record(msg.Timestamp, metrics.ResultReplayed)
	} else {
		w.verified.Add(1)
		w.record(msg.Timestamp, metrics.ResultVerified)
	}
	ackMessage(msg, w.cfg.AckTimeout, w.log)
	return nil
}

func (w *Worker) publishFailure(ctx context.Context, f Failure) error {
	payload, err := EncodeFailure(f)
	if err != nil {
		return err
	}
	var key []byte
	if (f.BatchID != common.Hash{}) {
		key = f.BatchID.Bytes()
	}
	return w.producer.Publish(ctx, w.cfg.FailureTopic, key, payload)
}

func (w *Worker) record(ts time.Time, result string) {
	w.service.metrics.Message(result)

	lagSeconds := float64(0)
	if !ts.IsZero() {
		if lag := time.Since(ts); lag > 0 {
			lagSeconds = lag.Seconds()
		}
	}
	w.log.Debug("deposit-verifier progress",
		"result", result,
		"queue_lag_seconds", lagSeconds,
		"in_flight", w.inflight.Load(),
		"verified_count", w.verified.Load(),
		"replayed_count", w.replayed.Load(),
		"failed_count", w.failed.Load(),
	)
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("deposit-verifier ack message", "err", err)
	}
}

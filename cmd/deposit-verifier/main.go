package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zkledger/anondeposit/internal/depositcircuit"
	"github.com/zkledger/anondeposit/internal/dispatch"
	"github.com/zkledger/anondeposit/internal/gateway"
	"github.com/zkledger/anondeposit/internal/metrics"
	"github.com/zkledger/anondeposit/internal/noteverify"
	"github.com/zkledger/anondeposit/internal/paramstore"
	"github.com/zkledger/anondeposit/internal/queue"
	"github.com/zkledger/anondeposit/internal/receipt"
	"github.com/zkledger/anondeposit/internal/receipt/postgres"
	"github.com/zkledger/anondeposit/internal/secrets"
	"github.com/zkledger/anondeposit/internal/verifierservice"
)

func main() {
	var (
		storeDriver    = flag.String("store-driver", "postgres", "receipt store driver: postgres|memory")
		postgresDSNRef = flag.String("postgres-dsn-ref", "env:ANONDEPOSIT_POSTGRES_DSN", "secret reference for the Postgres DSN: env:NAME or aws-sm:ID[#field]")

		paramsDriver = flag.String("params-driver", paramstore.DriverS3, "params store driver: file|s3")
		paramsDir    = flag.String("params-dir", "", "params store directory (file driver)")
		paramsBucket = flag.String("params-bucket", "", "params store bucket (s3 driver)")
		paramsPrefix = flag.String("params-prefix", "", "params store key prefix")
		paramsKey    = flag.String("params-key", paramstore.VerifyingKeyKey, "verifying key object key")

		inputTopic   = flag.String("input-topic", "deposits.verify.v1", "verification request topic")
		resultTopic  = flag.String("result-topic", "deposits.receipts.v1", "receipt output topic")
		failureTopic = flag.String("failure-topic", "deposits.verify.failures.v1", "failure output topic")

		maxInflight = flag.Int("max-inflight-batches", 8, "maximum batches verified concurrently")
		workers     = flag.Int("workers", 0, "per-batch verification workers; 0 uses GOMAXPROCS")

		queueDriver   = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers  = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup    = flag.String("queue-group", "deposit-verifier", "queue consumer group")
		maxLineBytes  = flag.Int("max-line-bytes", 4<<20, "max stdin line bytes for stdio driver")
		queueMaxBytes = flag.Int("queue-max-bytes", 16<<20, "max kafka message size to consume")
		ackTimeout    = flag.Duration("queue-ack-timeout", 5*time.Second, "queue message ack timeout")

		metricsAddr = flag.String("metrics-addr", ":9464", "listen address for /metrics; empty disables")
		logLevel    = flag.String("log-level", "info", "log level: debug|info|warn|error")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: --log-level: %v\n", err)
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *maxInflight <= 0 || *maxLineBytes <= 0 || *queueMaxBytes <= 0 {
		fmt.Fprintln(os.Stderr, "error: --max-inflight-batches, --max-line-bytes, and --queue-max-bytes must be > 0")
		os.Exit(2)
	}
	if *workers < 0 || *ackTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: --workers must be >= 0 and --queue-ack-timeout > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store receipt.Store
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		dsn, err := resolveSecret(ctx, *postgresDSNRef)
		if err != nil {
			log.Error("resolve postgres dsn", "err", err, "ref", *postgresDSNRef)
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := postgres.New(pool)
		if err != nil {
			log.Error("init receipt postgres store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure receipt postgres schema", "err", err)
			os.Exit(2)
		}
		store = pgStore
	case "memory":
		store = receipt.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	params, err := paramstore.Open(ctx, paramstore.Config{
		Driver: *paramsDriver,
		Prefix: *paramsPrefix,
		Dir:    *paramsDir,
		Bucket: *paramsBucket,
	})
	if err != nil {
		log.Error("init params store", "err", err)
		os.Exit(2)
	}
	loadCtx, cancelLoad := context.WithTimeout(ctx, time.Minute)
	gw, err := gateway.NewVerifier(gateway.Config{
		Params:   noteverify.NewParamsCell(paramstore.Loader(loadCtx, params, *paramsKey)),
		Oracle:   depositcircuit.Oracle{},
		Strategy: dispatch.Parallel{Workers: *workers},
		Log:      log,
	})
	cancelLoad()
	if err != nil {
		log.Error("init gateway", "err", err)
		os.Exit(2)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc, err := verifierservice.New(gw, store, m, log)
	if err != nil {
		log.Error("init verifier service", "err", err)
		os.Exit(2)
	}

	kafkaTLS := queue.TLSFromEnv()
	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:        *queueDriver,
		Brokers:       queue.SplitCommaList(*queueBrokers),
		Group:         *queueGroup,
		Topics:        []string{*inputTopic},
		KafkaMaxBytes: *queueMaxBytes,
		KafkaTLS:      kafkaTLS,
		MaxLineBytes:  *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:   *queueDriver,
		Brokers:  queue.SplitCommaList(*queueBrokers),
		KafkaTLS: kafkaTLS,
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	worker, err := verifierservice.NewWorker(verifierservice.WorkerConfig{
		InputTopic:   *inputTopic,
		ResultTopic:  *resultTopic,
		FailureTopic: *failureTopic,
		MaxInflight:  *maxInflight,
		AckTimeout:   *ackTimeout,
	}, svc, consumer, producer, log)
	if err != nil {
		log.Error("init verifier worker", "err", err)
		os.Exit(2)
	}

	if addr := strings.TrimSpace(*metricsAddr); addr != "" {
		srv := newMetricsServer(addr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("deposit-verifier started",
		"params_id", gw.Params().ID().Hex(),
		"store_driver", *storeDriver,
		"queue_driver", *queueDriver,
		"kafka_tls", kafkaTLS,
		"input_topic", *inputTopic,
		"result_topic", *resultTopic,
		"failure_topic", *failureTopic,
		"max_inflight_batches", *maxInflight,
		"workers", *workers,
	)

	if err := worker.Run(ctx); err != nil {
		log.Error("deposit-verifier exited with error", "err", err)
		os.Exit(1)
	}
}

// resolveSecret registers the AWS provider only when ref needs it, so the
// env path works without AWS configuration.
func resolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := secrets.ParseRef(ref)
	if err != nil {
		return "", err
	}
	providers := map[string]secrets.Provider{secrets.SchemeEnv: secrets.NewEnv()}
	if parsed.Scheme == secrets.SchemeAWS {
		aws, err := secrets.NewAWS(ctx)
		if err != nil {
			return "", err
		}
		providers[secrets.SchemeAWS] = aws
	}
	r, err := secrets.NewResolver(providers)
	if err != nil {
		return "", err
	}
	return r.Resolve(ctx, ref)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

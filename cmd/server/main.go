// main wires the stores, the gate, the profile service, and the HTTP server,
// and keeps the lifecycle small. Business logic lives in internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"attest/internal/account"
	accountstore "attest/internal/account/store"
	"attest/internal/events"
	"attest/internal/events/relay"
	eventstore "attest/internal/events/store"
	gatemetrics "attest/internal/gate/metrics"
	gate "attest/internal/gate/service"
	"attest/internal/password"
	passwordmetrics "attest/internal/password/metrics"
	"attest/internal/platform/config"
	"attest/internal/platform/httpserver"
	"attest/internal/platform/logger"
	platformredis "attest/internal/platform/redis"
	"attest/internal/profile"
	profilehandler "attest/internal/profile/handler"
	"attest/internal/token"
	"attest/internal/verification"
	verificationmetrics "attest/internal/verification/metrics"
	recordstore "attest/internal/verification/store"
	"attest/migrations"
	"attest/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	var (
		records  recordstore.RecordStore
		accounts accountstore.AccountStore
		outbox   eventstore.Store
		runner   profile.TxRunner = tx.PassthroughRunner{}
	)

	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := migrations.Apply(context.Background(), db); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		records = recordstore.NewPostgres(db)
		accounts = accountstore.NewPostgres(db)
		outbox = eventstore.NewPostgres(db)
		runner = tx.NewRunner(db)
		log.Info("using postgres stores")

	case cfg.RedisURL != "":
		client, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		records = recordstore.NewRedis(client.Client)
		accounts = accountstore.NewInMemory()
		outbox = eventstore.NewInMemory()
		log.Info("using redis record store with in-memory accounts")

	default:
		records = recordstore.NewInMemory()
		accounts = accountstore.NewInMemory()
		outbox = eventstore.NewInMemory()
		log.Warn("using in-memory stores, all state is lost on restart")
	}

	resolver, err := verification.NewResolver(records,
		verification.WithLogger(log),
		verification.WithMetrics(verificationmetrics.New()),
	)
	if err != nil {
		log.Error("failed to build resolver", "error", err)
		os.Exit(1)
	}
	collisions, err := account.NewCollisionChecker(accounts, account.WithCollisionLogger(log))
	if err != nil {
		log.Error("failed to build collision checker", "error", err)
		os.Exit(1)
	}
	g, err := gate.New(resolver, collisions,
		gate.WithLogger(log),
		gate.WithMetrics(gatemetrics.New()),
	)
	if err != nil {
		log.Error("failed to build gate", "error", err)
		os.Exit(1)
	}

	publisher := events.NewPublisher(outbox, events.WithPublisherLogger(log))
	defer publisher.Close()

	service, err := profile.New(
		accounts,
		records,
		collisions,
		g,
		password.NewValidator(password.DefaultPolicy(), password.WithMetrics(passwordmetrics.New())),
		publisher,
		runner,
		profile.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to build profile service", "error", err)
		os.Exit(1)
	}

	jwtService := token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	router := chi.NewRouter()
	profilehandler.New(service, token.NewAdapter(jwtService), log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient, err := kgo.NewClient(kgo.SeedBrokers(cfg.KafkaBrokers...))
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		if err := relay.EnsureTopic(ctx, kadm.NewClient(kafkaClient), cfg.EventsTopic, 3); err != nil {
			log.Error("failed to ensure events topic", "error", err)
			os.Exit(1)
		}

		outboxRelay, err := relay.New(outbox, kafkaClient, cfg.EventsTopic,
			relay.WithLogger(log),
			relay.WithInterval(cfg.RelayInterval),
		)
		if err != nil {
			log.Error("failed to build outbox relay", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := outboxRelay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox relay stopped", "error", err)
			}
		}()
		log.Info("outbox relay started", "topic", cfg.EventsTopic)
	}

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

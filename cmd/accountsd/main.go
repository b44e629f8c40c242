// Command accountsd serves the account lifecycle over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/migrations"
	"github.com/goliatone/go-accounts/notifier"
	"github.com/goliatone/go-accounts/repository"
	"github.com/goliatone/go-router"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	log := logrus.New()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, reading from environment")
	}

	cfg := Load()
	configureLogger(log, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("accountsd stopped")
	}
	log.Info("accountsd stopped")
}

func configureLogger(log *logrus.Logger, cfg Config) {
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}

func run(ctx context.Context, cfg Config, log *logrus.Logger) error {
	if cfg.SigningKey == "" {
		return errors.New("SESSION_SIGNING_KEY is required")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := newTokenStore(ctx, cfg)
	if err != nil {
		return err
	}

	logger := accounts.NewLogrusLogger(log)
	sink := activitymap.NewLogSink(log)

	sender, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	repo := accounts.NewRepositoryManager(db, accounts.WithTokenStore(store))
	settings := cfg.Accounts()

	sessions := accounts.NewTokenService(settings, logger)
	gateway := accounts.NewGateway(repo.Accounts(), sessions,
		accounts.WithGatewayActivitySink(sink),
		accounts.WithGatewayLogger(logger),
	)
	lifecycle := accounts.NewLifecycle(repo, gateway, settings,
		accounts.WithNotifier(sender),
		accounts.WithActivitySink(sink),
		accounts.WithLogger(logger),
	)

	limiter := accounts.NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	controller := accounts.NewAccountController(lifecycle, gateway,
		accounts.WithControllerLogger(logger),
		accounts.WithControllerRateLimiter(limiter),
		accounts.WithControllerCookie(cfg.CookieName, cfg.CookieSecure),
	)

	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			AppName:               "accountsd",
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
			IdleTimeout:           60 * time.Second,
			DisableStartupMessage: true,
		})
	})
	accounts.RegisterAccountRoutes(srv.Router(), controller)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter.Run(ctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		purgeTokens(ctx, lifecycle.Tokens(), cfg.PurgeInterval, log)
		return nil
	})

	g.Go(func() error {
		log.WithField("addr", cfg.Addr).Info("accountsd listening")
		return srv.Serve(cfg.Addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return srv.WrappedRouter().ShutdownWithTimeout(10 * time.Second)
	})

	return g.Wait()
}

func openDB(ctx context.Context, cfg Config) (*bun.DB, error) {
	var (
		db      *bun.DB
		dialect string
	)

	switch cfg.DBDriver {
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
		dialect = migrations.DialectPostgres
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
		dialect = migrations.DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.DBDebug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrations.Up(ctx, db.DB, dialect); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// newTokenStore returns nil for the default SQL store.
func newTokenStore(ctx context.Context, cfg Config) (accounts.TokenStore, error) {
	switch cfg.TokenStore {
	case "sql", "":
		return nil, nil
	case "dynamodb":
		client, err := repository.NewDynamoClient(ctx, repository.DynamoConfig{
			Region:      cfg.AWSRegion,
			EndpointURL: cfg.AWSEndpoint,
			AccessKeyID: cfg.AWSAccessKey,
			SecretKey:   cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoTokenStore(client, cfg.DynamoTable), nil
	default:
		return nil, fmt.Errorf("unsupported TOKEN_STORE %q", cfg.TokenStore)
	}
}

func newNotifier(ctx context.Context, cfg Config, logger accounts.Logger) (accounts.Notifier, error) {
	switch cfg.Notifier {
	case "log", "":
		return accounts.NewLogNotifier(cfg.PublicBaseURL, logger), nil
	case "smtp":
		return notifier.NewSMTPNotifier(notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
		}, cfg.PublicBaseURL), nil
	case "sns":
		if cfg.SNSTopicARN == "" {
			return nil, errors.New("SNS_TOPIC_ARN is required for the sns notifier")
		}
		client, err := notifier.NewSNSClient(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		return notifier.NewSNSNotifier(client, cfg.SNSTopicARN, cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported NOTIFIER %q", cfg.Notifier)
	}
}

func purgeTokens(ctx context.Context, tokens *accounts.TokenManager, interval time.Duration, log *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.PurgeExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("token purge failed")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Info("purged expired tokens")
			}
		}
	}
}

// Package runtime assembles the server process: configuration, logging,
// persistence, the application services and the two HTTP listeners.
package runtime

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/schemaflow/platform/internal/app"
	"github.com/schemaflow/platform/internal/app/httpapi"
	"github.com/schemaflow/platform/internal/app/ops"
	"github.com/schemaflow/platform/internal/app/services/auditlog"
	"github.com/schemaflow/platform/internal/app/services/secrets"
	"github.com/schemaflow/platform/internal/app/storage/postgres"
	"github.com/schemaflow/platform/internal/config"
	"github.com/schemaflow/platform/internal/engine/apicall"
	"github.com/schemaflow/platform/internal/platform/cache"
	"github.com/schemaflow/platform/internal/platform/migrations"
	"github.com/schemaflow/platform/pkg/logger"
)

// Application wires core dependencies and manages the server lifecycle.
type Application struct {
	cfg *config.Config
	log *logger.Logger
	app *app.Application

	apiServer *http.Server
	opsServer *http.Server

	db        *sqlx.DB
	redis     *cache.Redis
	auditFile *auditlog.FileSink
}

// NewApplication constructs the application from cfg. A nil cfg loads the
// environment configuration. The context bounds startup I/O such as schema
// migrations and the cache ping.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	opts := app.Options{
		TokenTTL: time.Duration(cfg.Auth.TokenTTLMin) * time.Minute,
		CallerConfig: apicall.Config{
			DefaultTimeout:   time.Duration(cfg.Mappings.DefaultTimeoutMs) * time.Millisecond,
			MaxTimeout:       time.Duration(cfg.Mappings.MaxTimeoutMs) * time.Millisecond,
			MaxBodyBytes:     cfg.Mappings.MaxBodyBytes,
			AllowedHosts:     cfg.Mappings.AllowedHosts,
			DenyPrivateHosts: cfg.Mappings.DenyPrivateHosts,
		},
		SchedulerEnabled:    cfg.Scheduler.Enabled,
		SchedulerRunTimeout: time.Duration(cfg.Scheduler.RunTimeoutSec) * time.Second,
	}

	if cfg.Auth.JWTSecret != "" {
		opts.TokenSecret = []byte(cfg.Auth.JWTSecret)
	} else {
		opts.TokenSecret = make([]byte, 32)
		if _, err := rand.Read(opts.TokenSecret); err != nil {
			closeDB(db, log)
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		log.Warn("SCHEMAFLOW_JWT_SECRET not set; using an ephemeral signing key, logins will not survive a restart")
	}

	if cfg.Secrets.EncryptionKey != "" {
		key, err := parseEncryptionKey(cfg.Secrets.EncryptionKey)
		if err != nil {
			closeDB(db, log)
			return nil, fmt.Errorf("SECRET_ENCRYPTION_KEY: %w", err)
		}
		cipher, err := secrets.NewAESCipher(key)
		if err != nil {
			closeDB(db, log)
			return nil, fmt.Errorf("initialise secret cipher: %w", err)
		}
		opts.SecretCipher = cipher
	} else {
		log.Warn("SECRET_ENCRYPTION_KEY not set; tenant secrets are stored in plaintext")
	}

	var redisCache *cache.Redis
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, falling back to the in-process mapping cache")
			redisCache = nil
		}
	}
	if redisCache != nil {
		opts.Cache = redisCache
	} else {
		opts.Cache = cache.NewMemory()
	}

	var auditFile *auditlog.FileSink
	if cfg.Audit.FilePath != "" {
		auditFile, err = auditlog.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			closeDB(db, log)
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		opts.AuditSinks = append(opts.AuditSinks, auditFile)
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		closeDB(db, log)
		return nil, fmt.Errorf("assemble services: %w", err)
	}

	apiHandler := httpapi.NewHandler(application, log, httpapi.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateRPS:     cfg.RateLimit.RPS,
		RateBurst:   cfg.RateLimit.Burst,
	})
	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiHandler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	var opsServer *http.Server
	if cfg.Ops.Port > 0 {
		var pinger ops.Pinger
		if db != nil {
			pinger = db.DB
		}
		opsServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port),
			Handler:      ops.NewRouter(pinger, log),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return &Application{
		cfg:       cfg,
		log:       log,
		app:       application,
		apiServer: apiServer,
		opsServer: opsServer,
		db:        db,
		redis:     redisCache,
		auditFile: auditFile,
	}, nil
}

// App exposes the assembled services for tests and tooling.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts the background services and HTTP listeners, then blocks until
// the context is cancelled or a listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		a.log.Infof("API server listening on %s", a.apiServer.Addr)
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if a.opsServer != nil {
		go func() {
			a.log.Infof("ops server listening on %s", a.opsServer.Addr)
			if err := a.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP listeners, stops the services and releases held
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}
	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops server: %w", err))
		}
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.auditFile != nil {
		if err := a.auditFile.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit file")
		}
	}
	closeDB(a.db, a.log)

	return errors.Join(errs...)
}

// buildStores opens the configured database, applies migrations and returns
// the store set. An empty DSN yields zero-valued stores; the composition
// layer fills those with in-memory implementations.
func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; state is held in memory and lost on restart")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	if err := migrations.Apply(ctx, db.DB); err != nil {
		closeDB(db, log)
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Tenants:    store,
		Users:      store,
		Artifacts:  store,
		Packages:   store,
		Secrets:    store,
		Sessions:   store,
		Executions: store,
		Jobs:       store,
		Audit:      store,
	}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func closeDB(db *sqlx.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}

func parseEncryptionKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("missing encryption key")
	}

	// raw bytes
	if l := len(value); l == 16 || l == 24 || l == 32 {
		return []byte(value), nil
	}

	// base64
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		if l := len(decoded); l == 16 || l == 24 || l == 32 {
			return decoded, nil
		}
	}

	// hex
	if decoded, err := hex.DecodeString(value); err == nil {
		if l := len(decoded); l == 16 || l == 24 || l == 32 {
			return decoded, nil
		}
	}

	return nil, errors.New("must be raw 16/24/32 byte string or base64/hex encoding of that length")
}

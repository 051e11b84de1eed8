package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jspaans/permitdesk/internal"
	"github.com/jspaans/permitdesk/internal/approval"
	approvaldb "github.com/jspaans/permitdesk/internal/approval/db"
	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/email/driver"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/migrate"
	"github.com/jspaans/permitdesk/internal/outbox"
	outboxdb "github.com/jspaans/permitdesk/internal/outbox/db"
	permitdb "github.com/jspaans/permitdesk/internal/permit/db"
	"github.com/jspaans/permitdesk/internal/web"
	"github.com/jspaans/permitdesk/migrations"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

func run(ctx context.Context, w io.Writer) int {
	logger := slog.New(slog.NewTextHandler(w, nil))

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	sqlDB, err := db.OpenSQLite(cfg.db.file, true)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer sqlDB.Close()

	if cfg.db.migrate {
		meta := migrate.Metadata{
			AppVersion: internal.BuildRevision,
			Timestamp:  internal.BuildRevisionTime,
		}

		ran, err := migrate.RunFS(ctx, sqlDB, migrations.FS, meta)
		if err != nil {
			logger.Error("failed to run migrations", "error", err)
			return 1
		}

		for _, m := range ran {
			logger.Info("ran migration", "sequence", m.Sequence, "filename", m.Filename)
		}
	}

	encryptor, err := krypto.NewEncryptor(cfg.db.encryptionKeys)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		return 1
	}

	linkStore := approvaldb.New(sqlDB, encryptor, cfg.db.tokenIndexKey)
	permitStore := permitdb.New(sqlDB, encryptor)
	emailStore := outboxdb.New(sqlDB, encryptor)

	queue := outbox.NewQueue(emailStore)

	approvals := approval.NewService(linkStore, permitStore, linkStore, queue, approval.ServiceConfig{
		TokenTTL:    cfg.approval.tokenTTL,
		ApprovalURL: cfg.approval.approvalURL,
	})

	sender, err := driver.NewSender(cfg.email.driver, logger)
	if err != nil {
		logger.Error("failed to create email sender", "error", err)
		return 1
	}

	processor := outbox.NewProcessor(emailStore, sender, cfg.email.from, logger)

	srv := &http.Server{
		Addr:         cfg.http.addr,
		ReadTimeout:  cfg.http.readTimeout,
		WriteTimeout: cfg.http.writeTimeout,
		IdleTimeout:  cfg.http.idleTimeout,
		Handler: web.NewServer(&web.ServerDeps{
			Logger:          logger,
			Approvals:       approvals,
			AuthorizeStatus: statusAuthorizer(cfg.http.statusAPIKey),
		}),
	}

	// We need to run three tasks concurrently:
	// - Listen and serving of the HTTP server.
	// - Periodically draining the outgoing email queue.
	// - Waiting for a signal to stop the server.

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server",
			"addr", cfg.http.addr,
			"buildRevision", internal.BuildRevision,
			"buildRevisionTime", internal.BuildRevisionTime,
			"buildLocalModified", internal.BuildLocalModified,
		)
		// ListenAndServe always returns a non-nil error,
		// g will cancel gCtx when an error is returned, so
		// this will also stop the other goroutines.
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.email.drainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				report, err := processor.Process(gCtx, cfg.email.drainBatch)
				if err != nil {
					// Store failures here mean we can't make progress,
					// but the queue survives a few missed passes.
					logger.Error("failed to drain email queue", "error", err)
					continue
				}

				if report.Processed > 0 {
					logger.Info("drained email queue",
						"processed", report.Processed,
						"sent", report.Sent,
						"failed", report.Failed,
					)
				}
			}
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping http server")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.http.shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped with error", "error", err)
		return 1
	}

	logger.Info("http server stopped successfully")

	return 0
}

// statusAuthorizer authorizes status reads by comparing the bearer
// token against the configured API key.
func statusAuthorizer(key krypto.Secret) web.AuthorizeFunc {
	return func(r *http.Request) bool {
		const prefix = "Bearer "

		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return false
		}

		return subtle.ConstantTimeCompare([]byte(header[len(prefix):]), key.SecretValue()) == 1
	}
}

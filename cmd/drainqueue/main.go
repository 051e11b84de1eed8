// Command drainqueue runs a single pass over the outgoing email queue
// and exits. It is meant to be invoked periodically by an external
// scheduler for deployments that run the server with its built-in
// drain loop disabled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/email/driver"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/outbox"
	outboxdb "github.com/jspaans/permitdesk/internal/outbox/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	sqlDB, err := db.OpenSQLite(cfg.dbFile, true)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer sqlDB.Close()

	encryptor, err := krypto.NewEncryptor(cfg.encryptionKeys)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		return 1
	}

	sender, err := driver.NewSender(cfg.driver, logger)
	if err != nil {
		logger.Error("failed to create email sender", "error", err)
		return 1
	}

	processor := outbox.NewProcessor(outboxdb.New(sqlDB, encryptor), sender, cfg.from, logger)

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	report, err := processor.Process(ctx, cfg.batch)
	if err != nil {
		logger.Error("failed to drain email queue", "error", err)
		return 1
	}

	logger.Info("drained email queue",
		"processed", report.Processed,
		"sent", report.Sent,
		"failed", report.Failed,
	)

	return 0
}

type config struct {
	dbFile         string
	encryptionKeys []krypto.Key
	from           email.Address
	driver         driver.Config
	batch          int
	timeout        time.Duration
}

func configFromEnv() (config, error) {
	cfg := config{
		dbFile: "permitdesk.db",
		driver: driver.Config{
			Driver:                driver.DriverLog,
			PostmarkMessageStream: "outbound",
		},
		batch:   25,
		timeout: time.Minute,
	}

	cfg.driver.PostmarkAPIURL, _ = url.Parse("https://api.postmarkapp.com/email")

	if v := os.Getenv("DB_FILENAME"); v != "" {
		cfg.dbFile = v
	}

	rawKeys, ok := os.LookupEnv("DB_ENCRYPTION_KEYS")
	if !ok {
		return cfg, fmt.Errorf("missing required env variable DB_ENCRYPTION_KEYS")
	}

	for _, part := range strings.Split(rawKeys, ",") {
		key, err := krypto.ParseKey(strings.TrimSpace(part))
		if err != nil {
			return cfg, fmt.Errorf("invalid env variable DB_ENCRYPTION_KEYS: %w", err)
		}
		cfg.encryptionKeys = append(cfg.encryptionKeys, key)
	}

	rawFrom, ok := os.LookupEnv("EMAIL_FROM")
	if !ok {
		return cfg, fmt.Errorf("missing required env variable EMAIL_FROM")
	}

	from, err := email.ParseAddress(rawFrom)
	if err != nil {
		return cfg, fmt.Errorf("invalid env variable EMAIL_FROM: %w", err)
	}
	cfg.from = from

	if v := os.Getenv("EMAIL_DRIVER"); v != "" {
		cfg.driver.Driver = v
	}

	if v := os.Getenv("POSTMARK_API_URL"); v != "" {
		u, err := url.Parse(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid env variable POSTMARK_API_URL: %w", err)
		}
		cfg.driver.PostmarkAPIURL = u
	}

	if v := os.Getenv("POSTMARK_SERVER_TOKEN"); v != "" {
		cfg.driver.PostmarkServerToken = krypto.NewSecret(v)
	}

	if v := os.Getenv("POSTMARK_MESSAGE_STREAM"); v != "" {
		cfg.driver.PostmarkMessageStream = v
	}

	if v := os.Getenv("EMAIL_DRAIN_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid env variable EMAIL_DRAIN_BATCH: %q", v)
		}
		cfg.batch = n
	}

	if v := os.Getenv("EMAIL_DRAIN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid env variable EMAIL_DRAIN_TIMEOUT: %w", err)
		}
		cfg.timeout = d
	}

	return cfg, nil
}

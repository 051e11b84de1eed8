package main

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/email/driver"
	"github.com/jspaans/permitdesk/internal/krypto"
)

// httpConfig is the configuration for the HTTP server.
type httpConfig struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	statusAPIKey    krypto.Secret
}

// dbConfig is the configuration for the database.
type dbConfig struct {
	file           string
	migrate        bool
	encryptionKeys []krypto.Key
	tokenIndexKey  krypto.Key
}

// approvalConfig is the configuration for the approval service.
type approvalConfig struct {
	tokenTTL    time.Duration
	approvalURL *url.URL
}

// emailConfig is the configuration for outgoing email.
type emailConfig struct {
	from          email.Address
	driver        driver.Config
	drainInterval time.Duration
	drainBatch    int
}

// config is the configuration for the server command.
type config struct {
	http     httpConfig
	db       dbConfig
	approval approvalConfig
	email    emailConfig
}

// defaultConfig returns a config with sane default values.
func defaultConfig() config {
	return config{
		http: httpConfig{
			addr:            ":8888",
			readTimeout:     time.Second * 5,
			writeTimeout:    time.Second * 10,
			idleTimeout:     time.Second * 120,
			shutdownTimeout: time.Second * 15,
		},
		db: dbConfig{
			file:    "permitdesk.db",
			migrate: true,
		},
		approval: approvalConfig{
			tokenTTL: time.Hour * 72,
		},
		email: emailConfig{
			driver: driver.Config{
				Driver:                driver.DriverLog,
				PostmarkAPIURL:        mustURL("https://api.postmarkapp.com/email"),
				PostmarkMessageStream: "outbound",
			},
			drainInterval: time.Minute,
			drainBatch:    25,
		},
	}
}

// envVar describes how a single environment variable maps onto the
// config struct.
type envVar struct {
	required bool
	mapFunc  func(v string, c *config) error
}

// envMap maps environment variable names to fields in the config struct.
var envMap = map[string]envVar{
	"HTTP_ADDR": {
		mapFunc: func(v string, c *config) error {
			c.http.addr = v
			return nil
		},
	},
	"HTTP_READ_TIMEOUT": {
		mapFunc: func(v string, c *config) error {
			return confDuration(v, &c.http.readTimeout, 0, math.MaxInt64)
		},
	},
	"HTTP_WRITE_TIMEOUT": {
		mapFunc: func(v string, c *config) error {
			return confDuration(v, &c.http.writeTimeout, 0, math.MaxInt64)
		},
	},
	"HTTP_IDLE_TIMEOUT": {
		mapFunc: func(v string, c *config) error {
			return confDuration(v, &c.http.idleTimeout, 0, math.MaxInt64)
		},
	},
	"HTTP_SHUTDOWN_TIMEOUT": {
		mapFunc: func(v string, c *config) error {
			return confDuration(v, &c.http.shutdownTimeout, 0, math.MaxInt64)
		},
	},
	"HTTP_STATUS_API_KEY": {
		required: true,
		mapFunc: func(v string, c *config) error {
			if v == "" {
				return errors.New("empty value")
			}
			c.http.statusAPIKey = krypto.NewSecret(v)
			return nil
		},
	},
	"DB_FILENAME": {
		mapFunc: func(v string, c *config) error {
			if v == "" {
				return errors.New("empty value")
			}
			c.db.file = v
			return nil
		},
	},
	"DB_MIGRATE": {
		mapFunc: func(v string, c *config) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.db.migrate = b
			return nil
		},
	},
	"DB_ENCRYPTION_KEYS": {
		required: true,
		mapFunc: func(v string, c *config) error {
			return confKeys(v, &c.db.encryptionKeys)
		},
	},
	"DB_TOKEN_INDEX_KEY": {
		required: true,
		mapFunc: func(v string, c *config) error {
			return confKey(v, &c.db.tokenIndexKey)
		},
	},
	"APPROVAL_TOKEN_TTL": {
		mapFunc: func(v string, c *config) error {
			return confDuration(v, &c.approval.tokenTTL, time.Minute, math.MaxInt64)
		},
	},
	"APPROVAL_URL": {
		required: true,
		mapFunc: func(v string, c *config) error {
			return confURL(v, &c.approval.approvalURL)
		},
	},
	"EMAIL_DRIVER": {
		mapFunc: func(v string, c *config) error {
			if v != driver.DriverLog && v != driver.DriverPostmark {
				return fmt.Errorf("unknown driver %q", v)
			}
			c.email.driver.Driver = v
			return nil
		},
	},
	"EMAIL_FROM": {
		required: true,
		mapFunc: func(v string, c *config) error {
			addr, err := email.ParseAddress(v)
			if err != nil {
				return err
			}
			c.email.from = addr
			return nil
		},
	},
	"EMAIL_DRAIN_INTERVAL": {
		mapFunc: func(v string, c *config) error {
			return confDuration(v, &c.email.drainInterval, time.Second, math.MaxInt64)
		},
	},
	"EMAIL_DRAIN_BATCH": {
		mapFunc: func(v string, c *config) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			if n < 1 {
				return fmt.Errorf("batch size %d is below 1", n)
			}
			c.email.drainBatch = n
			return nil
		},
	},
	"POSTMARK_API_URL": {
		mapFunc: func(v string, c *config) error {
			return confURL(v, &c.email.driver.PostmarkAPIURL)
		},
	},
	"POSTMARK_SERVER_TOKEN": {
		mapFunc: func(v string, c *config) error {
			c.email.driver.PostmarkServerToken = krypto.NewSecret(v)
			return nil
		},
	},
	"POSTMARK_MESSAGE_STREAM": {
		mapFunc: func(v string, c *config) error {
			c.email.driver.PostmarkMessageStream = v
			return nil
		},
	},
}

// configFromEnv returns a config with values from the environment. It falls
// back to default values for any missing non-required environment variables.
//
// It does a best effort to validate provided values, so that mistakes are
// caught ASAP. However, there is no guarantee that the returned config
// is valid and will work.
func configFromEnv() (config, error) {
	c := defaultConfig()

	var errs []error
	for key, ev := range envMap {
		val, ok := os.LookupEnv(key)
		if !ok {
			if ev.required {
				errs = append(errs, fmt.Errorf("missing required env variable %s", key))
			}
			continue
		}

		if err := ev.mapFunc(val, &c); err != nil {
			errs = append(errs, fmt.Errorf("invalid env variable %s: %w", key, err))
		}
	}

	return c, errors.Join(errs...)
}

// confDuration attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confDuration(v string, tgt *time.Duration, min, max time.Duration) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	if dur < min || dur > max {
		return fmt.Errorf("duration %s not in range [%s, %s] (inclusive)", dur, min, max)
	}

	*tgt = dur

	return nil
}

func confKey(v string, tgt *krypto.Key) error {
	key, err := krypto.ParseKey(v)
	if err != nil {
		return err
	}

	*tgt = key

	return nil
}

// confKeys parses a comma separated list of hex encoded keys.
func confKeys(v string, tgt *[]krypto.Key) error {
	parts := strings.Split(v, ",")

	keys := make([]krypto.Key, 0, len(parts))
	for _, part := range parts {
		key, err := krypto.ParseKey(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	*tgt = keys

	return nil
}

func confURL(v string, tgt **url.URL) error {
	u, err := url.Parse(v)
	if err != nil {
		return err
	}

	if u.Host == "" {
		return fmt.Errorf("url %q has no host", v)
	}

	*tgt = u

	return nil
}

func mustURL(v string) *url.URL {
	u, err := url.Parse(v)
	if err != nil {
		panic(err)
	}
	return u
}

// Package driver constructs the configured email sender. It exists so
// the server and the queue drain command share one piece of wiring.
package driver

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/email/postmark"
	"github.com/jspaans/permitdesk/internal/krypto"
)

const (
	DriverLog      = "log"
	DriverPostmark = "postmark"
)

// Config selects and configures the sender driver. The log driver is
// for tests and offline use, postmark is the production transport.
type Config struct {
	Driver                string
	PostmarkAPIURL        *url.URL
	PostmarkServerToken   krypto.Secret
	PostmarkMessageStream string
}

// NewSender constructs a sender for the configured driver. Network
// senders get a client with the transport timeout applied internally,
// callers only pass a context for cancellation.
func NewSender(cfg Config, logger *slog.Logger) (email.Sender, error) {
	switch cfg.Driver {
	case DriverLog:
		return email.NewLogSender(logger), nil
	case DriverPostmark:
		if cfg.PostmarkAPIURL == nil {
			return nil, fmt.Errorf("postmark driver requires an API URL")
		}

		client := &http.Client{
			Timeout: 30 * time.Second,
		}

		return postmark.NewSender(client, postmark.Settings{
			APIURL:        cfg.PostmarkAPIURL,
			ServerToken:   cfg.PostmarkServerToken,
			MessageStream: cfg.PostmarkMessageStream,
		}), nil
	}

	return nil, fmt.Errorf("unknown email driver %q", cfg.Driver)
}

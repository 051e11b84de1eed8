package email

import "context"

// Message is a single outgoing email. TextBody is optional, senders
// that support it include it as the plaintext alternative.
type Message struct {
	From     Address
	To       Address
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender is responsible for actually sending an email.
//
// A returned error indicates a transport failure. Senders are expected
// to apply their own network timeouts, callers only pass a context for
// cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

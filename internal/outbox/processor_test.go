package outbox_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jspaans/permitdesk/internal/db/testdb"
	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/outbox"
	outboxdb "github.com/jspaans/permitdesk/internal/outbox/db"
)

const fromAddr = email.Address("permits@example.com")

type outboxForTest struct {
	store  *outboxdb.Store
	queue  *outbox.Queue
	sender *email.MemorySender

	now time.Time
}

func newOutboxForTest(t *testing.T) *outboxForTest {
	t.Helper()

	sqlDB := testdb.RunWhile(t, true)

	enc, err := krypto.NewEncryptor([]krypto.Key{
		must(krypto.ParseKey("2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d")),
	})
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	f := &outboxForTest{
		store:  outboxdb.New(sqlDB, enc),
		sender: email.NewMemorySender(),
		now:    time.Date(2024, 5, 13, 8, 0, 0, 0, time.UTC),
	}

	f.queue = outbox.NewQueue(f.store)
	f.queue.NowFunc = func() time.Time { return f.now }

	return f
}

func (f *outboxForTest) processor(t *testing.T) *outbox.Processor {
	t.Helper()

	p := outbox.NewProcessor(f.store, f.sender, fromAddr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.NowFunc = func() time.Time { return f.now }

	return p
}

func (f *outboxForTest) enqueue(t *testing.T, to email.Address, subject string) {
	t.Helper()

	// Distinct timestamps keep the drain order deterministic.
	f.now = f.now.Add(time.Second)

	_, err := f.queue.Enqueue(context.Background(), to, subject, "<p>body</p>", "body")
	if err != nil {
		t.Fatalf("failed to enqueue email: %v", err)
	}
}

func (f *outboxForTest) emailsWithStatus(t *testing.T, status outbox.Status) []outbox.Email {
	t.Helper()

	emails, err := f.store.FindEmails(context.Background(), &outbox.EmailFilter{
		Statuses: []outbox.Status{status},
	})
	if err != nil {
		t.Fatalf("failed to find emails: %v", err)
	}

	return emails
}

func Test_Processor_Process(t *testing.T) {
	t.Run("ok, sends queued emails", func(t *testing.T) {
		f := newOutboxForTest(t)
		f.enqueue(t, "sanne@example.com", "subject 1")
		f.enqueue(t, "timo@example.com", "subject 2")

		report, err := f.processor(t).Process(context.Background(), 10)
		if err != nil {
			t.Fatalf("failed to process: %v", err)
		}

		want := outbox.Report{Processed: 2, Sent: 2}
		if !reflect.DeepEqual(report, want) {
			t.Errorf("got report %#v, want %#v", report, want)
		}

		sent := f.sender.Emails()
		if len(sent) != 2 {
			t.Fatalf("got %d sent emails, want 2", len(sent))
		}
		for i, msg := range sent {
			if msg.From != fromAddr {
				t.Errorf("email %d is from %s, want %s", i, msg.From, fromAddr)
			}
		}

		rows := f.emailsWithStatus(t, outbox.StatusSent)
		if len(rows) != 2 {
			t.Fatalf("got %d sent rows, want 2", len(rows))
		}
		for i, row := range rows {
			if row.SentAt == nil {
				t.Errorf("row %d has no sent_at", i)
			}
			if row.ClaimedAt == nil {
				t.Errorf("row %d has no claimed_at", i)
			}
		}
	})

	t.Run("ok, transport failure does not abort the batch", func(t *testing.T) {
		f := newOutboxForTest(t)
		f.enqueue(t, "sanne@example.com", "will fail")
		f.enqueue(t, "timo@example.com", "will send")

		f.sender.FailFunc = func(msg email.Message) error {
			if msg.Subject == "will fail" {
				return errors.New("smtp unavailable")
			}
			return nil
		}

		report, err := f.processor(t).Process(context.Background(), 10)
		if err != nil {
			t.Fatalf("failed to process: %v", err)
		}

		if report.Processed != 2 || report.Sent != 1 || report.Failed != 1 {
			t.Errorf("got report %#v, want processed 2, sent 1, failed 1", report)
		}
		if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "smtp unavailable") {
			t.Errorf("got errors %v, want one mentioning the transport failure", report.Errors)
		}

		failed := f.emailsWithStatus(t, outbox.StatusFailed)
		if len(failed) != 1 {
			t.Fatalf("got %d failed rows, want 1", len(failed))
		}
		if failed[0].Error == nil || !strings.Contains(*failed[0].Error, "smtp unavailable") {
			t.Errorf("failed row error is %v, want the transport failure", failed[0].Error)
		}

		if got := len(f.emailsWithStatus(t, outbox.StatusSent)); got != 1 {
			t.Errorf("got %d sent rows, want 1", got)
		}
	})

	t.Run("ok, terminal rows are not picked up again", func(t *testing.T) {
		f := newOutboxForTest(t)
		f.enqueue(t, "sanne@example.com", "will fail")
		f.enqueue(t, "timo@example.com", "will send")

		f.sender.FailFunc = func(msg email.Message) error {
			if msg.Subject == "will fail" {
				return errors.New("smtp unavailable")
			}
			return nil
		}

		proc := f.processor(t)
		if _, err := proc.Process(context.Background(), 10); err != nil {
			t.Fatalf("failed to process: %v", err)
		}

		report, err := proc.Process(context.Background(), 10)
		if err != nil {
			t.Fatalf("failed to process: %v", err)
		}

		want := outbox.Report{}
		if !reflect.DeepEqual(report, want) {
			t.Errorf("got report %#v, want an empty one", report)
		}

		if got := len(f.sender.Emails()); got != 1 {
			t.Errorf("got %d sent emails after two passes, want 1", got)
		}
	})

	t.Run("ok, limit bounds the batch", func(t *testing.T) {
		f := newOutboxForTest(t)
		f.enqueue(t, "sanne@example.com", "first")
		f.enqueue(t, "timo@example.com", "second")
		f.enqueue(t, "vera@example.com", "third")

		report, err := f.processor(t).Process(context.Background(), 2)
		if err != nil {
			t.Fatalf("failed to process: %v", err)
		}

		if report.Processed != 2 {
			t.Errorf("got %d processed, want 2", report.Processed)
		}

		// The oldest rows go first.
		sent := f.sender.Emails()
		if len(sent) != 2 || sent[0].Subject != "first" || sent[1].Subject != "second" {
			t.Errorf("unexpected batch %v", sent)
		}

		if got := len(f.emailsWithStatus(t, outbox.StatusPending)); got != 1 {
			t.Errorf("got %d pending rows, want 1", got)
		}
	})
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

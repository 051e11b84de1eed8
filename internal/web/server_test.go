package web_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/approval"
	approvaldb "github.com/jspaans/permitdesk/internal/approval/db"
	"github.com/jspaans/permitdesk/internal/db/testdb"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/outbox"
	outboxdb "github.com/jspaans/permitdesk/internal/outbox/db"
	"github.com/jspaans/permitdesk/internal/permit"
	permitdb "github.com/jspaans/permitdesk/internal/permit/db"
	"github.com/jspaans/permitdesk/internal/web"
)

const statusAPIKey = "test-status-key"

type serverFixture struct {
	srv     *web.Server
	links   *approvaldb.Store
	permits *permitdb.Store

	now time.Time
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	sqlDB := testdb.RunWhile(t, true)

	enc, err := krypto.NewEncryptor([]krypto.Key{
		must(krypto.ParseKey("2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d")),
	})
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	indexKey := must(krypto.ParseKey("e19bdb82a25d353045ba52cbba84c96d27bbebc58f911e91c0295f2657b2812c"))

	f := &serverFixture{
		links:   approvaldb.New(sqlDB, enc, indexKey),
		permits: permitdb.New(sqlDB, enc),
		now:     time.Date(2024, 5, 13, 8, 0, 0, 0, time.UTC),
	}
	f.permits.NowFunc = func() time.Time { return f.now }

	queue := outbox.NewQueue(outboxdb.New(sqlDB, enc))

	recipients := approval.StaticSource{
		{
			ID:    uuid.MustParse("2e2febcb-2a9f-4a4c-8b27-c238ec58f58c"),
			Name:  "Sanne Bakker",
			Email: "sanne@example.com",
		},
	}

	svc := approval.NewService(f.links, f.permits, recipients, queue, approval.ServiceConfig{
		TokenTTL:    72 * time.Hour,
		ApprovalURL: must(url.Parse("https://permits.example.com/approvals")),
	})
	svc.NowFunc = func() time.Time { return f.now }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f.srv = web.NewServer(&web.ServerDeps{
		Logger:    logger,
		Approvals: svc,
		AuthorizeStatus: func(r *http.Request) bool {
			return r.Header.Get("Authorization") == "Bearer "+statusAPIKey
		},
	})

	return f
}

func (f *serverFixture) createPermit(t *testing.T) permit.Permit {
	t.Helper()

	p := permit.Permit{
		ID:          uuid.New(),
		Ref:         "PTW-2024-0001",
		HolderName:  "Jacob de Vries",
		HolderEmail: "jacob@example.com",
		Status:      permit.StatusPendingApproval,
	}

	if err := f.permits.CreatePermit(context.Background(), &p); err != nil {
		t.Fatalf("failed to create permit: %v", err)
	}

	return p
}

func (f *serverFixture) issueLink(t *testing.T, permitID uuid.UUID) krypto.Token {
	t.Helper()

	token := must(krypto.GenerateToken())
	link := approval.Link{
		ID:             uuid.New(),
		PermitID:       permitID,
		RecipientName:  "Sanne Bakker",
		RecipientEmail: "sanne@example.com",
		CreatedAt:      f.now,
		ExpiresAt:      f.now.Add(72 * time.Hour),
	}

	if err := f.links.CreateLink(context.Background(), &link, token); err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	return token
}

func (f *serverFixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	return rec
}

func (f *serverFixture) postForm(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return out
}

func Test_Server_PreviewDecision(t *testing.T) {
	t.Run("ok, open link", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		token := f.issueLink(t, p.ID)

		rec := f.get(t, "/approvals?token="+token.String())
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
		}

		body := decodeBody(t, rec)
		if body["permitRef"] != p.Ref {
			t.Errorf("got permit ref %v, want %s", body["permitRef"], p.Ref)
		}
		if body["state"] != "open" {
			t.Errorf("got state %v, want open", body["state"])
		}
		if v, ok := body["expiresAt"].(string); !ok || v == "" {
			t.Errorf("expected an expiry on an open link")
		}
	})

	t.Run("ok, used link", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		token := f.issueLink(t, p.ID)

		rec := f.postForm(t, "/approvals", url.Values{
			"token":  {token.String()},
			"action": {"approve"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("failed to decide: status %d", rec.Code)
		}

		rec = f.get(t, "/approvals?token="+token.String())
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
		}

		body := decodeBody(t, rec)
		if body["state"] != "used" {
			t.Errorf("got state %v, want used", body["state"])
		}
		if body["usedAction"] != "approve" {
			t.Errorf("got used action %v, want approve", body["usedAction"])
		}
	})

	t.Run("fail, unknown and garbled tokens share a response", func(t *testing.T) {
		f := newServerFixture(t)

		unknown := f.get(t, "/approvals?token="+must(krypto.GenerateToken()).String())
		garbled := f.get(t, "/approvals?token=not-a-token")

		if unknown.Code != http.StatusNotFound {
			t.Errorf("got status %d for unknown token, want %d", unknown.Code, http.StatusNotFound)
		}
		if garbled.Code != http.StatusNotFound {
			t.Errorf("got status %d for garbled token, want %d", garbled.Code, http.StatusNotFound)
		}

		// The same body for both, the endpoint never confirms whether a
		// token exists.
		if unknown.Body.String() != garbled.Body.String() {
			t.Errorf("responses differ:\n%s\n%s", unknown.Body.String(), garbled.Body.String())
		}
	})
}

func Test_Server_SubmitDecision(t *testing.T) {
	t.Run("ok, approve", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		token := f.issueLink(t, p.ID)

		rec := f.postForm(t, "/approvals", url.Values{
			"token":   {token.String()},
			"action":  {"approve"},
			"comment": {"all clear"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		body := decodeBody(t, rec)
		if body["permitRef"] != p.Ref || body["action"] != "approve" || body["comment"] != "all clear" {
			t.Errorf("unexpected body %v", body)
		}

		permits, err := f.permits.FindPermits(context.Background(), &permit.Filter{
			IDs: []uuid.UUID{p.ID},
		})
		if err != nil || len(permits) != 1 {
			t.Fatalf("failed to find permit: n=%d err=%v", len(permits), err)
		}
		if permits[0].Status != permit.StatusActive {
			t.Errorf("got permit status %s, want %s", permits[0].Status, permit.StatusActive)
		}

		// The redeemed link records the caller.
		link, err := f.links.FindLinkByToken(context.Background(), token)
		if err != nil {
			t.Fatalf("failed to find link: %v", err)
		}
		if link.UsedIP == nil || *link.UsedIP == "" {
			t.Errorf("expected the redeemed link to record an IP")
		}
	})

	t.Run("fail, second submit reports the link as used", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		token := f.issueLink(t, p.ID)

		form := url.Values{
			"token":  {token.String()},
			"action": {"approve"},
		}

		if rec := f.postForm(t, "/approvals", form); rec.Code != http.StatusOK {
			t.Fatalf("failed to decide: status %d", rec.Code)
		}

		rec := f.postForm(t, "/approvals", form)
		if rec.Code != http.StatusGone {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusGone)
		}
	})

	t.Run("fail, expired link", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		token := f.issueLink(t, p.ID)

		f.now = f.now.Add(72*time.Hour + time.Second)

		rec := f.postForm(t, "/approvals", url.Values{
			"token":  {token.String()},
			"action": {"approve"},
		})
		if rec.Code != http.StatusGone {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusGone)
		}
	})

	t.Run("fail, permit already decided", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		tokenA := f.issueLink(t, p.ID)
		tokenB := f.issueLink(t, p.ID)

		if rec := f.postForm(t, "/approvals", url.Values{
			"token":  {tokenA.String()},
			"action": {"approve"},
		}); rec.Code != http.StatusOK {
			t.Fatalf("failed to decide: status %d", rec.Code)
		}

		rec := f.postForm(t, "/approvals", url.Values{
			"token":  {tokenB.String()},
			"action": {"reject"},
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusConflict)
		}
	})

	t.Run("fail, invalid action", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		token := f.issueLink(t, p.ID)

		rec := f.postForm(t, "/approvals", url.Values{
			"token":  {token.String()},
			"action": {"maybe"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func Test_Server_PermitStatus(t *testing.T) {
	t.Run("fail, missing authorization", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.get(t, "/permit-status?ids="+uuid.New().String())
		if rec.Code != http.StatusForbidden {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("ok, returns bundles per permit", func(t *testing.T) {
		f := newServerFixture(t)
		p := f.createPermit(t)
		f.issueLink(t, p.ID)

		req := httptest.NewRequest(http.MethodGet, "/permit-status?ids="+p.ID.String(), nil)
		req.Header.Set("Authorization", "Bearer "+statusAPIKey)
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		var out map[string]struct {
			Recipients []struct {
				Email string `json:"email"`
				State string `json:"state"`
			} `json:"recipients"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("failed to decode response body: %v", err)
		}

		bundle, ok := out[p.ID.String()]
		if !ok {
			t.Fatalf("no bundle for permit %s in %v", p.ID, out)
		}
		if len(bundle.Recipients) != 1 {
			t.Fatalf("got %d recipients, want 1", len(bundle.Recipients))
		}
		if bundle.Recipients[0].Email != "sanne@example.com" {
			t.Errorf("got recipient %s, want sanne@example.com", bundle.Recipients[0].Email)
		}
		if bundle.Recipients[0].State != string(approval.StateAwaitingResponse) {
			t.Errorf("got state %s, want %s", bundle.Recipients[0].State, approval.StateAwaitingResponse)
		}
	})

	t.Run("fail, malformed permit id", func(t *testing.T) {
		f := newServerFixture(t)

		req := httptest.NewRequest(http.MethodGet, "/permit-status?ids=not-a-uuid", nil)
		req.Header.Set("Authorization", "Bearer "+statusAPIKey)
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

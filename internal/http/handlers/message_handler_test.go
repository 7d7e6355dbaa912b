package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/repo"
	"github.com/averos/go-chatpay-backend/internal/services"
)

func TestSanitizeContent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hello\r\nworld", "hello\nworld"},
		{"a\rb", "a\nb"},
		{"p1\n\n\n\n\np2", "p1\n\np2"},
		{"  trimmed  ", "trimmed"},
		{"\r\n\r\n", ""},
	}
	for _, c := range cases {
		if got := sanitizeContent(c.in); got != c.want {
			t.Errorf("sanitizeContent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPostMessage_Success(t *testing.T) {
	sess := activeSession()
	assistant := &domain.Message{ID: "m1", SessionID: sess.ID, Role: domain.RoleAssistant, Content: "hi"}
	chat := &fakeChatSvc{msg: assistant}
	h := New(&fakeSessionSvc{session: sess}, chat, &fakePaySvc{}, &fakeWalletSvc{}, Options{})

	w := doJSON(t, newTestRouter(h), http.MethodPost, "/sessions/"+sess.ID+"/messages",
		`{"content":"hello\r\n\n\n\nthere","model":"special"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message.ID != "m1" {
		t.Fatalf("wrong message: %+v", resp.Message)
	}
	// The service receives sanitized content and the per-turn model.
	if chat.last.Content != "hello\n\nthere" || chat.last.Model != "special" {
		t.Fatalf("unexpected turn input: %+v", chat.last)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	sess := activeSession()
	chat := &fakeChatSvc{}
	h := New(&fakeSessionSvc{session: sess}, chat, &fakePaySvc{}, &fakeWalletSvc{}, Options{})
	r := newTestRouter(h)

	for name, body := range map[string]string{
		"missing content":    `{}`,
		"whitespace content": `{"content":"  \r\n "}`,
		"malformed json":     `{"content":`,
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/sessions/"+sess.ID+"/messages", body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if chat.calls != 0 {
		t.Fatalf("service called on invalid input: %d", chat.calls)
	}

	w := doJSON(t, r, http.MethodPost, "/sessions/bad-id/messages", `{"content":"x"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-UUID session id: status %d", w.Code)
	}
}

func TestPostMessage_ServiceErrorMapping(t *testing.T) {
	sess := activeSession()
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", services.ErrSessionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"expired", services.ErrSessionExpired, http.StatusGone, ErrCodeSessionExpired},
		{"too long", services.ErrTooLong, http.StatusBadRequest, ErrCodeBadRequest},
		{"upstream", fmt.Errorf("%w: provider 503", services.ErrUpstream), http.StatusBadGateway, ErrCodeUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(&fakeSessionSvc{session: sess}, &fakeChatSvc{err: tc.err}, &fakePaySvc{}, &fakeWalletSvc{}, Options{})
			w := doJSON(t, newTestRouter(h), http.MethodPost, "/sessions/"+sess.ID+"/messages", `{"content":"q"}`, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			if got := errCode(t, w); got != tc.wantCode {
				t.Fatalf("code %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestPostMessage_EdgeLengthCapFromOptions(t *testing.T) {
	sess := activeSession()
	chat := &fakeChatSvc{msg: &domain.Message{ID: "m1"}}
	h := New(&fakeSessionSvc{session: sess}, chat, &fakePaySvc{}, &fakeWalletSvc{}, Options{MaxMessageRunes: 10})
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/sessions/"+sess.ID+"/messages",
		`{"content":"0123456789X"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if chat.calls != 0 {
		t.Fatalf("over-limit content reached the service")
	}
	if !strings.Contains(w.Body.String(), "max 10 runes") {
		t.Fatalf("limit not reported: %s", w.Body.String())
	}

	// At the limit passes the edge check.
	w = doJSON(t, r, http.MethodPost, "/sessions/"+sess.ID+"/messages",
		`{"content":"0123456789"}`, nil)
	if w.Code != http.StatusOK || chat.calls != 1 {
		t.Fatalf("limit-length content rejected: status %d calls %d", w.Code, chat.calls)
	}
}

// scriptedCompleter satisfies provider.Completer for the end-to-end
// idempotency test below.
type scriptedCompleter struct {
	calls int
}

func (s *scriptedCompleter) Complete(context.Context, string, string) (string, error) {
	s.calls++
	return fmt.Sprintf("reply-%d", s.calls), nil
}

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handler_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestPostMessage_IdempotencyReplay(t *testing.T) {
	db := newHandlerDB(t)
	sessions := services.NewSessionService(db, nil, time.Hour)
	comp := &scriptedCompleter{}
	chat := &services.ChatService{DB: db, Sessions: sessions, Provider: comp, MaxMessageRunes: 4000}

	sess, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	h := New(sessions, chat, &fakePaySvc{}, &fakeWalletSvc{}, Options{History: chat})
	r := newTestRouter(h)
	hdr := map[string]string{"Idempotency-Key": "retry-key-1"}

	first := doJSON(t, r, http.MethodPost, "/sessions/"+sess.ID+"/messages", `{"content":"hello"}`, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first: status %d: %s", first.Code, first.Body.String())
	}
	if first.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first delivery flagged as replay")
	}

	second := doJSON(t, r, http.MethodPost, "/sessions/"+sess.ID+"/messages", `{"content":"hello"}`, hdr)
	if second.Code != http.StatusOK {
		t.Fatalf("second: status %d: %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("retry not flagged as replay")
	}

	var a, b PostMessageResponse
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.Message.ID != b.Message.ID {
		t.Fatalf("replay returned a different message: %q vs %q", a.Message.ID, b.Message.ID)
	}
	if comp.calls != 1 {
		t.Fatalf("provider called %d times, want 1", comp.calls)
	}

	// A fresh key runs a new turn.
	third := doJSON(t, r, http.MethodPost, "/sessions/"+sess.ID+"/messages", `{"content":"hello"}`,
		map[string]string{"Idempotency-Key": "retry-key-2"})
	if third.Code != http.StatusOK || comp.calls != 2 {
		t.Fatalf("new key should re-run: status %d, provider calls %d", third.Code, comp.calls)
	}
}

func TestListMessages_Handler(t *testing.T) {
	sess := activeSession()
	msgs := []domain.Message{
		{ID: "m1", SessionID: sess.ID, Role: domain.RoleUser, Content: "q"},
		{ID: "m2", SessionID: sess.ID, Role: domain.RoleAssistant, Content: "a"},
	}
	h := New(&fakeSessionSvc{session: sess, msgs: msgs}, &fakeChatSvc{}, &fakePaySvc{}, &fakeWalletSvc{}, Options{})
	w := doJSON(t, newTestRouter(h), http.MethodGet, "/sessions/"+sess.ID+"/messages", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 2 || len(resp.Messages) != 2 {
		t.Fatalf("unexpected list: %+v", resp)
	}
}

func TestListMessages_ExpiredSession(t *testing.T) {
	sess := activeSession()
	h := New(&fakeSessionSvc{session: sess, listErr: services.ErrSessionExpired}, &fakeChatSvc{}, &fakePaySvc{}, &fakeWalletSvc{}, Options{})
	w := doJSON(t, newTestRouter(h), http.MethodGet, "/sessions/"+sess.ID+"/messages", "", nil)
	if w.Code != http.StatusGone {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestListMessages_ETagNotModified(t *testing.T) {
	db := newHandlerDB(t)
	sessions := services.NewSessionService(db, nil, time.Hour)
	chat := &services.ChatService{DB: db, Sessions: sessions, Provider: &scriptedCompleter{}}

	sess, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := repo.CreateMessage(db, sess.ID, domain.RoleUser, "q", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := New(sessions, chat, &fakePaySvc{}, &fakeWalletSvc{}, Options{History: chat})
	r := newTestRouter(h)

	first := doJSON(t, r, http.MethodGet, "/sessions/"+sess.ID+"/messages", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first: status %d", first.Code)
	}
	etag := first.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"messages:`) {
		t.Fatalf("missing weak etag, got %q", etag)
	}

	second := doJSON(t, r, http.MethodGet, "/sessions/"+sess.ID+"/messages", "",
		map[string]string{"If-None-Match": etag})
	if second.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", second.Code)
	}

	// A new message changes the tag.
	if _, err := repo.CreateMessage(db, sess.ID, domain.RoleAssistant, "a", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	third := doJSON(t, r, http.MethodGet, "/sessions/"+sess.ID+"/messages", "",
		map[string]string{"If-None-Match": etag})
	if third.Code != http.StatusOK {
		t.Fatalf("stale tag should refetch, got %d", third.Code)
	}
}

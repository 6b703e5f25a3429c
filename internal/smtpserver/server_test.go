package smtpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	netsmtp "net/smtp"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.io/infrasutra/tempmail/internal/ingest"
	"github.io/infrasutra/tempmail/internal/store"
)

type recordingHook struct {
	mu  sync.Mutex
	txs []ingest.Transaction
}

func (h *recordingHook) Complete(tx ingest.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txs = append(h.txs, tx)
}

func (h *recordingHook) Queue(ingest.Transaction) ingest.Verdict {
	return ingest.Accepted
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, hook Hook, cfg Config) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(hook, discardLogger(), cfg)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr().String()
}

func TestBuildTransactionDecodesHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte("From: Alice <a@example.com>\r\n" +
		"Subject: =?UTF-8?B?SGVsbG8gd29ybGQ=?=\r\n" +
		"X-Custom: one\r\n" +
		"x-custom: two\r\n" +
		"\r\n" +
		"body\r\n")
	tx := buildTransaction("a@example.com", []string{"Box@Temp.test"}, raw, discardLogger())

	if tx.ID == "" {
		t.Error("expected transaction id")
	}
	if tx.Subject != "Hello world" {
		t.Errorf("subject: got %q", tx.Subject)
	}
	if got := tx.Headers["X-Custom"]; len(got) != 2 {
		t.Errorf("repeated header: got %v", got)
	}
	if tx.Recipients[0] != "Box@Temp.test" {
		t.Errorf("recipient must be kept as received, got %q", tx.Recipients[0])
	}
	if string(tx.Raw) != string(raw) {
		t.Error("raw body must be preserved")
	}
}

func TestBuildTransactionBadHeaders(t *testing.T) {
	t.Parallel()

	tx := buildTransaction("a@example.com", []string{"b@temp.test"}, []byte("no header here\r\n\r\nbody"), discardLogger())
	if tx.Subject != "" || len(tx.Headers) != 0 {
		t.Errorf("expected empty subject and headers, got %q %v", tx.Subject, tx.Headers)
	}
	if len(tx.Raw) == 0 {
		t.Error("raw body must still be kept")
	}
}

func TestBuildTransactionKeepsUndecodableSubject(t *testing.T) {
	t.Parallel()

	raw := []byte("From: a@example.com\r\nSubject: =?x-klingon?q?hi?= there\r\n\r\nbody\r\n")
	tx := buildTransaction("a@example.com", []string{"b@temp.test"}, raw, discardLogger())
	if tx.Subject != "=?x-klingon?q?hi?= there" {
		t.Errorf("subject: got %q", tx.Subject)
	}
	if got := tx.Headers["Subject"]; len(got) != 1 || got[0] != tx.Subject {
		t.Errorf("subject header: got %v", got)
	}
}

func TestSessionHandsTransactionToHook(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	addr := startServer(t, hook, Config{})

	msg := []byte("From: a@example.com\r\nTo: Box@Temp.test\r\nSubject: ping\r\n\r\nhello\r\n")
	if err := netsmtp.SendMail(addr, nil, "a@example.com", []string{"Box@Temp.test", "other@temp.test"}, msg); err != nil {
		t.Fatalf("send mail: %v", err)
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if len(hook.txs) != 1 {
		t.Fatalf("transactions: got %d, want 1", len(hook.txs))
	}
	tx := hook.txs[0]
	if tx.Sender != "a@example.com" || len(tx.Recipients) != 2 || tx.Subject != "ping" {
		t.Errorf("transaction: got %+v", tx)
	}
}

func TestSessionRequiresAuthWhenEnabled(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	addr := startServer(t, hook, Config{AuthEnabled: true, Username: "u", Password: "p"})

	msg := []byte("Subject: x\r\n\r\nbody\r\n")
	if err := netsmtp.SendMail(addr, nil, "a@example.com", []string{"b@temp.test"}, msg); err == nil {
		t.Fatal("expected unauthenticated send to fail")
	}
}

func TestEndToEndPersistsThroughHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := store.Open(ctx, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	hook := ingest.New(db, nil, discardLogger())
	addr := startServer(t, hook, Config{})

	msg := []byte("From: a@example.com\r\nSubject: stored\r\n\r\nhello\r\n")
	if err := netsmtp.SendMail(addr, nil, "a@example.com", []string{"X@Y.com"}, msg); err != nil {
		t.Fatalf("send mail: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := hook.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got, err := db.FindByRecipient(ctx, "x@y.com", 50)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "stored" {
		t.Fatalf("stored messages: got %+v", got)
	}
}

func TestCheckPassword(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	cases := []struct {
		name       string
		configured string
		given      string
		want       bool
	}{
		{"plain match", "s3cret", "s3cret", true},
		{"plain mismatch", "s3cret", "other", false},
		{"bcrypt match", string(hash), "s3cret", true},
		{"bcrypt mismatch", string(hash), "other", false},
		{"bcrypt hash is not the password", string(hash), string(hash), false},
	}
	for _, tc := range cases {
		if got := checkPassword(tc.configured, tc.given); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

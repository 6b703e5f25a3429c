package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.io/infrasutra/tempmail/internal/dashboard"
	"github.io/infrasutra/tempmail/internal/grants"
	"github.io/infrasutra/tempmail/internal/pagination"
	"github.io/infrasutra/tempmail/internal/render"
	"github.io/infrasutra/tempmail/internal/store"
)

const (
	inboxLimit      = 50
	maxRequestBytes = 1 << 20
)

type MailStore interface {
	FindByRecipient(ctx context.Context, address string, limit int) ([]store.MessageRecord, error)
	FindByID(ctx context.Context, id string) (store.MessageRecord, error)
	Ping(ctx context.Context) error
}

type Renderer interface {
	Render(raw []byte) render.Rendition
}

type GrantService interface {
	IssueOrReuse(ctx context.Context, email string) (store.Grant, error)
	LookupByToken(ctx context.Context, token string) (grants.Redemption, error)
	CheckSaved(ctx context.Context, email string) (store.Grant, bool, error)
}

type Stats interface {
	Overview(ctx context.Context, startDate, endDate string) (dashboard.Overview, error)
	PagedEmails(ctx context.Context, startDate, endDate string, params pagination.Params) (dashboard.Page, error)
	DayReport(ctx context.Context, date string) (dashboard.DayReport, error)
}

// Watcher feeds the live inbox stream.
type Watcher interface {
	Subscribe(address string) (<-chan []byte, func())
}

type Server struct {
	mail     MailStore
	renderer Renderer
	grants   GrantService
	stats    Stats
	watcher  Watcher
	logger   *slog.Logger
	mux      *http.ServeMux

	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(mail MailStore, renderer Renderer, grantService GrantService, stats Stats, watcher Watcher, logger *slog.Logger) *Server {
	server := &Server{
		mail:     mail,
		renderer: renderer,
		grants:   grantService,
		stats:    stats,
		watcher:  watcher,
		logger:   logger,
		closing:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)
	mux.HandleFunc("/inbox/", server.handleInbox)
	mux.HandleFunc("/api/fakeemails", server.handleFakeEmails)
	mux.HandleFunc("/message/", server.handleMessage)
	mux.HandleFunc("/email-count", server.handleEmailCount)
	mux.HandleFunc("/save-email", server.handleSaveEmail)
	mux.HandleFunc("/saved/", server.handleSaved)
	mux.HandleFunc("/check-saved", server.handleCheckSaved)
	mux.HandleFunc("/dashboard-data", server.handleDashboardData)
	mux.HandleFunc("/dashboard-emails", server.handleDashboardEmails)
	mux.HandleFunc("/", server.handleNotFound)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// CloseStreams ends every open inbox stream. http.Server.Shutdown does not
// interrupt active handlers, so register it with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.mail.Ping(ctx); err != nil {
		s.logger.Error("readiness ping", "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.respondError(w, http.StatusNotFound, "Not found")
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/inbox/")
	if address, ok := strings.CutSuffix(rest, "/stream"); ok && address != "" && !strings.Contains(address, "/") {
		s.handleStream(w, r, address)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		s.handleNotFound(w, r)
		return
	}
	s.serveInbox(w, r, rest)
}

func (s *Server) handleFakeEmails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("email"))
	if address == "" {
		s.respondError(w, http.StatusBadRequest, "The email query parameter is required")
		return
	}
	s.serveInbox(w, r, address)
}

func (s *Server) serveInbox(w http.ResponseWriter, r *http.Request, address string) {
	records, err := s.mail.FindByRecipient(r.Context(), address, inboxLimit)
	if err != nil {
		s.respondFailure(w, r, "list inbox", err)
		return
	}
	views := make([]messageView, 0, len(records))
	for _, record := range records {
		views = append(views, s.toMessageView(record))
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/message/")
	if id == "" || strings.Contains(id, "/") {
		s.handleNotFound(w, r)
		return
	}
	record, err := s.mail.FindByID(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, "load message", err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.toMessageView(record))
}

func (s *Server) handleEmailCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.stats.DayReport(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		s.respondFailure(w, r, "email count", err)
		return
	}
	senders := make([]senderCount, 0, len(report.Senders))
	for _, sender := range report.Senders {
		senders = append(senders, senderCount{Email: sender.Key, Count: sender.Count})
	}
	s.respondJSON(w, http.StatusOK, emailCountResponse{
		OK:      true,
		Date:    report.Date,
		Count:   report.Count,
		Senders: senders,
	})
}

func (s *Server) handleSaveEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	grant, err := s.grants.IssueOrReuse(r.Context(), s.decodeEmail(w, r))
	if err != nil {
		s.respondFailure(w, r, "save email", err)
		return
	}
	s.respondJSON(w, http.StatusOK, grants.NewAccess(grant, baseURL(r)))
}

func (s *Server) handleSaved(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/saved/")
	if strings.Contains(token, "/") {
		s.handleNotFound(w, r)
		return
	}
	redemption, err := s.grants.LookupByToken(r.Context(), token)
	if err != nil {
		s.respondFailure(w, r, "redeem token", err)
		return
	}
	iso, formatted := grants.FormatExpiry(redemption.Grant.ExpiresAt)
	s.respondJSON(w, http.StatusOK, savedResponse{
		Email:              redemption.Grant.Email,
		ExpiresAt:          iso,
		ExpiresAtFormatted: formatted,
		DaysRemaining:      redemption.DaysRemaining,
	})
}

func (s *Server) handleCheckSaved(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	grant, ok, err := s.grants.CheckSaved(r.Context(), s.decodeEmail(w, r))
	if err != nil {
		s.respondFailure(w, r, "check saved", err)
		return
	}
	response := checkSavedResponse{IsSaved: ok}
	if ok {
		access := grants.NewAccess(grant, baseURL(r))
		response.Data = &access
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	overview, err := s.stats.Overview(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		s.respondFailure(w, r, "dashboard data", err)
		return
	}

	response := dashboardResponse{
		Today:              overview.Today,
		Week:               overview.Week,
		Month:              overview.Month,
		Filtered:           overview.Filtered,
		Filter:             filterView{Start: optional(overview.Filter.StartRaw), End: optional(overview.Filter.EndRaw)},
		TopDomains:         make([]domainCount, 0, len(overview.TopDomains)),
		RepeatedRecipients: make([]senderCount, 0, len(overview.TopRecipients)),
	}
	for _, domain := range overview.TopDomains {
		response.TopDomains = append(response.TopDomains, domainCount{Domain: domain.Key, Count: domain.Count})
	}
	for _, recipient := range overview.TopRecipients {
		response.RepeatedRecipients = append(response.RepeatedRecipients, senderCount{Email: recipient.Key, Count: recipient.Count})
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleDashboardEmails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	page, err := s.stats.PagedEmails(r.Context(), q.Get("startDate"), q.Get("endDate"), pagination.FromQuery(q))
	if err != nil {
		s.respondFailure(w, r, "dashboard emails", err)
		return
	}

	response := dashboardEmailsResponse{
		Total:    page.Total,
		Page:     page.Params.Page,
		PageSize: page.Params.PageSize,
		HasNext:  page.HasNext,
		Emails:   make([]emailSummary, 0, len(page.Messages)),
	}
	for _, message := range page.Messages {
		response.Emails = append(response.Emails, emailSummary{
			ID:        message.ID,
			FromEmail: message.Sender,
			ToEmail:   message.FirstRecipient,
			Subject:   message.Subject,
			CreatedAt: formatTime(message.ReceivedAt),
		})
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, address string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.watcher.Subscribe(address)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// decodeEmail reads {"email": "..."}; a malformed body yields "" so the
// caller reports the usual invalid-email error.
func (s *Server) decodeEmail(w http.ResponseWriter, r *http.Request) string {
	var payload struct {
		Email any `json:"email"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&payload); err != nil {
		return ""
	}
	email, _ := payload.Email.(string)
	return email
}

// respondFailure maps domain errors onto status codes. Unknown errors are
// logged in full and answered with a generic 500.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		return
	case errors.Is(err, grants.ErrInvalidEmail):
		s.respondError(w, http.StatusBadRequest, "A valid email is required")
	case errors.Is(err, dashboard.ErrMissingDate), errors.Is(err, dashboard.ErrInvalidDate):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dashboard.ErrInvalidRange):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, grants.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Saved email not found")
	case errors.Is(err, grants.ErrExpired):
		s.respondError(w, http.StatusGone, "Token expired")
	default:
		s.logger.Error(op, "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusInternalServerError, "server error")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{OK: false, Error: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// baseURL is the scheme and host the caller used, honoring a proxy's
// X-Forwarded-Proto.
func baseURL(r *http.Request) string {
	proto := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	return proto + "://" + r.Host
}

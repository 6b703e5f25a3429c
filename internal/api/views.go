package api

import (
	"time"

	"github.io/infrasutra/tempmail/internal/grants"
	"github.io/infrasutra/tempmail/internal/store"
)

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// messageView is the read shape of a stored message. Bucket and ObjectKey
// are always null; bodies live inline in the store.
type messageView struct {
	ID        string  `json:"id"`
	FromEmail string  `json:"from_email"`
	ToEmail   string  `json:"to_email"`
	Subject   string  `json:"subject"`
	BodyText  *string `json:"body_text"`
	BodyHTML  *string `json:"body_html"`
	Bucket    *string `json:"bucket"`
	ObjectKey *string `json:"object_key"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type senderCount struct {
	Email string `json:"email"`
	Count int64  `json:"count"`
}

type domainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

type emailCountResponse struct {
	OK      bool          `json:"ok"`
	Date    string        `json:"date"`
	Count   int64         `json:"count"`
	Senders []senderCount `json:"senders"`
}

type savedResponse struct {
	Email              string `json:"email"`
	ExpiresAt          string `json:"expires_at"`
	ExpiresAtFormatted string `json:"expires_at_formatted"`
	DaysRemaining      int    `json:"days_remaining"`
}

type checkSavedResponse struct {
	IsSaved bool           `json:"is_saved"`
	Data    *grants.Access `json:"data"`
}

type filterView struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

type dashboardResponse struct {
	Today              int64         `json:"today"`
	Week               int64         `json:"week"`
	Month              int64         `json:"month"`
	Filtered           *int64        `json:"filtered"`
	Filter             filterView    `json:"filter"`
	TopDomains         []domainCount `json:"topDomains"`
	RepeatedRecipients []senderCount `json:"repeatedRecipients"`
}

type emailSummary struct {
	ID        string `json:"id"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"created_at"`
}

type dashboardEmailsResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	HasNext  bool           `json:"hasNext"`
	Emails   []emailSummary `json:"emails"`
}

func (s *Server) toMessageView(record store.MessageRecord) messageView {
	rendition := s.renderer.Render(record.RawBody)
	created := formatTime(record.ReceivedAt)
	return messageView{
		ID:        record.ID,
		FromEmail: record.Sender,
		ToEmail:   record.FirstRecipient(),
		Subject:   record.Subject,
		BodyText:  rendition.Text,
		BodyHTML:  rendition.HTML,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(store.TimestampLayout)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

package store

import "time"

// MessageRecord is one captured mail transaction. Records are immutable once
// inserted and never deleted.
// TimestampLayout is the wire format for every instant the service emits:
// ISO 8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type MessageRecord struct {
	ID         string
	Sender     string
	Recipients []string
	Subject    string
	Headers    map[string][]string
	RawBody    []byte
	ReceivedAt time.Time
}

// FirstRecipient is the canonical "to" address used by read views.
func (m MessageRecord) FirstRecipient() string {
	if len(m.Recipients) == 0 {
		return ""
	}
	return m.Recipients[0]
}

type MessageSummary struct {
	ID             string
	Sender         string
	FirstRecipient string
	Subject        string
	ReceivedAt     time.Time
}

// Count is one row of a grouping query.
type Count struct {
	Key   string
	Count int64
}

// Range bounds a receivedAt query as [Start, End). A nil bound is open.
type Range struct {
	Start *time.Time
	End   *time.Time
}

type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantExpired GrantStatus = "expired"
)

type Grant struct {
	ID         int64
	Email      string
	Token      string
	Status     GrantStatus
	ExpiresAt  time.Time
	EmailCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

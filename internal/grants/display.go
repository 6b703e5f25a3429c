package grants

import (
	"strings"
	"time"

	"github.io/infrasutra/tempmail/internal/store"
)

const (
	formattedExpiry = "Monday, January 2, 2006 at 3:04 PM"
)

// Access is the wire view of a grant handed back to whoever saved it.
type Access struct {
	AccessToken        string `json:"access_token"`
	AccessURL          string `json:"access_url"`
	ExpiresAt          string `json:"expires_at"`
	ExpiresAtFormatted string `json:"expires_at_formatted"`
}

func NewAccess(grant store.Grant, baseURL string) Access {
	iso, formatted := FormatExpiry(grant.ExpiresAt)
	return Access{
		AccessToken:        grant.Token,
		AccessURL:          strings.TrimRight(baseURL, "/") + "/saved/" + grant.Token,
		ExpiresAt:          iso,
		ExpiresAtFormatted: formatted,
	}
}

// FormatExpiry renders t in UTC as an ISO instant with milliseconds and as
// a human readable string.
func FormatExpiry(t time.Time) (string, string) {
	utc := t.UTC()
	return utc.Format(store.TimestampLayout), utc.Format(formattedExpiry)
}

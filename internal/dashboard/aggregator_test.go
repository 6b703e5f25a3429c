package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.io/infrasutra/tempmail/internal/pagination"
	"github.io/infrasutra/tempmail/internal/store"
)

type fixture struct {
	db  *store.Store
	agg *Aggregator
	at  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	f := &fixture{db: db, agg: New(db, 4*time.Hour)}
	db.SetClock(func() time.Time { return f.at })
	return f
}

func (f *fixture) insertAt(t *testing.T, at time.Time, from, to string) {
	t.Helper()
	f.at = at
	if _, err := f.db.InsertMessage(context.Background(), store.MessageRecord{
		Sender:     from,
		Recipients: []string{to},
		Subject:    "s",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestPeriodCounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Wednesday 2025-11-19 15:00 UTC; week starts Sunday 2025-11-16.
	now := time.Date(2025, 11, 19, 15, 0, 0, 0, time.UTC)
	f.insertAt(t, time.Date(2025, 10, 31, 23, 0, 0, 0, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 15, 23, 59, 0, 0, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 16, 0, 0, 0, 0, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 19, 0, 30, 0, 0, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 19, 14, 59, 0, 0, time.UTC), "a@x.com", "r@t.test")

	got, err := f.agg.PeriodCounts(context.Background(), now)
	if err != nil {
		t.Fatalf("period counts: %v", err)
	}
	want := Periods{Today: 2, Week: 3, Month: 5}
	if got != want {
		t.Errorf("periods: got %+v, want %+v", got, want)
	}
}

func TestRangeCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.insertAt(t, time.Date(2024, 12, 31, 23, 59, 59, 999e6, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 1, 5, 23, 59, 59, 999e6, time.UTC), "a@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), "a@x.com", "r@t.test")

	ctx := context.Background()
	tests := []struct {
		start, end string
		want       *int64
	}{
		{"", "", nil},
		{"2025-01-01", "", ptr(3)},
		{"", "2025-01-05", ptr(3)},
		{"2025-01-01", "2025-01-05", ptr(2)},
	}
	for _, tt := range tests {
		got, err := f.agg.RangeCount(ctx, tt.start, tt.end)
		if err != nil {
			t.Fatalf("RangeCount(%q, %q): %v", tt.start, tt.end, err)
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("RangeCount(%q, %q): got %v, want %v", tt.start, tt.end, deref(got), deref(tt.want))
		}
	}

	for _, bad := range [][2]string{{"2025-13-01", ""}, {"", "yesterday"}, {"2025-02-30", ""}} {
		if _, err := f.agg.RangeCount(ctx, bad[0], bad[1]); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("RangeCount(%q, %q): got %v, want ErrInvalidRange", bad[0], bad[1], err)
		}
	}
}

func TestDayReportUsesReportingOffset(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Local day 2025-11-17 in UTC+4 spans 2025-11-16T20:00Z to 2025-11-17T20:00Z.
	f.insertAt(t, time.Date(2025, 11, 16, 19, 59, 0, 0, time.UTC), "loud@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 16, 20, 0, 0, 0, time.UTC), "loud@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 17, 10, 0, 0, 0, time.UTC), "loud@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 17, 19, 0, 0, 0, time.UTC), "loud@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 17, 11, 0, 0, 0, time.UTC), "pair@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 17, 12, 0, 0, 0, time.UTC), "pair@x.com", "r@t.test")
	f.insertAt(t, time.Date(2025, 11, 17, 20, 0, 0, 0, time.UTC), "loud@x.com", "r@t.test")

	report, err := f.agg.DayReport(context.Background(), "2025-11-17")
	if err != nil {
		t.Fatalf("day report: %v", err)
	}
	if report.Count != 5 {
		t.Errorf("count: got %d, want 5", report.Count)
	}
	if len(report.Senders) != 1 || report.Senders[0] != (store.Count{Key: "loud@x.com", Count: 3}) {
		t.Errorf("senders: got %+v", report.Senders)
	}
}

func TestDayReportValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.agg.DayReport(context.Background(), ""); !errors.Is(err, ErrMissingDate) {
		t.Errorf("empty date: got %v", err)
	}
	if _, err := f.agg.DayReport(context.Background(), "17/11/2025"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("bad date: got %v", err)
	}
}

func TestOverviewAndPagedEmails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		f.insertAt(t, base.Add(time.Duration(i)*time.Hour), fmt.Sprintf("s%d@d%d.com", i, i%2), "r@t.test")
	}
	f.agg.SetClock(func() time.Time { return base.Add(10 * time.Hour) })

	ctx := context.Background()
	overview, err := f.agg.Overview(ctx, "2025-06-01", "")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Filtered == nil || *overview.Filtered != 8 {
		t.Errorf("filtered: got %v", deref(overview.Filtered))
	}
	if overview.Today != 8 {
		t.Errorf("today: got %d", overview.Today)
	}
	if len(overview.TopDomains) != 2 || overview.TopDomains[0].Count != 4 {
		t.Errorf("top domains: got %+v", overview.TopDomains)
	}
	if len(overview.TopRecipients) != 1 || overview.TopRecipients[0].Count != 8 {
		t.Errorf("top recipients: got %+v", overview.TopRecipients)
	}

	page, err := f.agg.PagedEmails(ctx, "", "", pagination.Params{Page: 2, PageSize: 5})
	if err != nil {
		t.Fatalf("paged emails: %v", err)
	}
	if page.Total != 8 || len(page.Messages) != 3 || page.HasNext {
		t.Errorf("page: total=%d len=%d hasNext=%v", page.Total, len(page.Messages), page.HasNext)
	}
	if page.Messages[0].Sender != "s2@d0.com" {
		t.Errorf("first on page 2: got %s", page.Messages[0].Sender)
	}

	if _, err := f.agg.PagedEmails(ctx, "nope", "", pagination.Params{}); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("invalid filter: got %v", err)
	}
}

func ptr(v int64) *int64 {
	return &v
}

func deref(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

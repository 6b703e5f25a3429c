// Package dashboard computes message statistics over the mail store.
//
// Two day conventions coexist and each is fixed per endpoint: dashboard
// periods and date filters use UTC calendar days, while the single-day
// report behind /email-count uses the configured reporting offset
// (UTC+4 by default).
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/tempmail/internal/pagination"
	"github.io/infrasutra/tempmail/internal/store"
)

var (
	ErrMissingDate  = errors.New("date is required")
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidRange = errors.New("invalid date range")
)

const (
	dateLayout       = "2006-01-02"
	topLimit         = 6
	notableSenderMin = 2
)

type Store interface {
	CountInRange(ctx context.Context, r store.Range) (int64, error)
	TopSendersInRange(ctx context.Context, r store.Range, minCount int64) ([]store.Count, error)
	TopDomains(ctx context.Context, limit int) ([]store.Count, error)
	TopRecipients(ctx context.Context, limit int) ([]store.Count, error)
	ListInRange(ctx context.Context, r store.Range, offset, limit int) ([]store.MessageSummary, int64, error)
}

type Periods struct {
	Today int64
	Week  int64
	Month int64
}

// Filter is a parsed startDate/endDate pair. Raw values are kept for echoing
// back to the caller.
type Filter struct {
	StartRaw string
	EndRaw   string
	Range    store.Range
}

// Empty reports whether neither bound was supplied.
func (f Filter) Empty() bool {
	return f.Range.Start == nil && f.Range.End == nil
}

type Overview struct {
	Periods
	Filtered      *int64
	Filter        Filter
	TopDomains    []store.Count
	TopRecipients []store.Count
}

type Page struct {
	Total    int64
	Params   pagination.Params
	HasNext  bool
	Messages []store.MessageSummary
}

type DayReport struct {
	Date    string
	Count   int64
	Senders []store.Count
}

type Aggregator struct {
	store  Store
	report *time.Location
	now    func() time.Time
}

// New builds an aggregator whose single-day report uses a fixed offset from
// UTC.
func New(s Store, reportOffset time.Duration) *Aggregator {
	name := fmt.Sprintf("UTC%+d", int(reportOffset.Hours()))
	return &Aggregator{
		store:  s,
		report: time.FixedZone(name, int(reportOffset.Seconds())),
		now:    time.Now,
	}
}

// SetClock replaces the clock. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// PeriodCounts counts messages since the start of the UTC day, the UTC week
// (Sunday) and the UTC month, up to and including now.
func (a *Aggregator) PeriodCounts(ctx context.Context, now time.Time) (Periods, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	week := today.AddDate(0, 0, -int(today.Weekday()))
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	// inclusive of now
	end := now.Add(time.Millisecond)

	var p Periods
	g, ctx := errgroup.WithContext(ctx)
	for _, period := range []struct {
		start time.Time
		out   *int64
	}{
		{today, &p.Today},
		{week, &p.Week},
		{month, &p.Month},
	} {
		g.Go(func() error {
			count, err := a.store.CountInRange(ctx, store.Range{Start: &period.start, End: &end})
			if err != nil {
				return err
			}
			*period.out = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Periods{}, fmt.Errorf("period counts: %w", err)
	}
	return p, nil
}

// ParseFilter floors startDate to UTC midnight and extends endDate through
// the last millisecond of its UTC day.
func ParseFilter(startDate, endDate string) (Filter, error) {
	f := Filter{StartRaw: strings.TrimSpace(startDate), EndRaw: strings.TrimSpace(endDate)}
	if f.StartRaw != "" {
		start, err := time.ParseInLocation(dateLayout, f.StartRaw, time.UTC)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: startDate %q", ErrInvalidRange, f.StartRaw)
		}
		f.Range.Start = &start
	}
	if f.EndRaw != "" {
		day, err := time.ParseInLocation(dateLayout, f.EndRaw, time.UTC)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: endDate %q", ErrInvalidRange, f.EndRaw)
		}
		// exclusive bound: the instant after 23:59:59.999
		end := day.AddDate(0, 0, 1)
		f.Range.End = &end
	}
	return f, nil
}

// RangeCount returns nil when neither bound is supplied.
func (a *Aggregator) RangeCount(ctx context.Context, startDate, endDate string) (*int64, error) {
	f, err := ParseFilter(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return a.filteredCount(ctx, f)
}

func (a *Aggregator) filteredCount(ctx context.Context, f Filter) (*int64, error) {
	if f.Empty() {
		return nil, nil
	}
	count, err := a.store.CountInRange(ctx, f.Range)
	if err != nil {
		return nil, fmt.Errorf("range count: %w", err)
	}
	return &count, nil
}

func (a *Aggregator) TopDomains(ctx context.Context) ([]store.Count, error) {
	return a.store.TopDomains(ctx, topLimit)
}

func (a *Aggregator) TopRecipients(ctx context.Context) ([]store.Count, error) {
	return a.store.TopRecipients(ctx, topLimit)
}

// Overview gathers everything the dashboard shows in one call.
func (a *Aggregator) Overview(ctx context.Context, startDate, endDate string) (Overview, error) {
	f, err := ParseFilter(startDate, endDate)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{Filter: f}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.PeriodCounts(gctx, a.now())
		out.Periods = p
		return err
	})
	g.Go(func() error {
		count, err := a.filteredCount(gctx, f)
		out.Filtered = count
		return err
	})
	g.Go(func() error {
		domains, err := a.TopDomains(gctx)
		out.TopDomains = domains
		return err
	})
	g.Go(func() error {
		recipients, err := a.TopRecipients(gctx)
		out.TopRecipients = recipients
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

// PagedEmails lists message summaries newest first within the filter.
func (a *Aggregator) PagedEmails(ctx context.Context, startDate, endDate string, params pagination.Params) (Page, error) {
	f, err := ParseFilter(startDate, endDate)
	if err != nil {
		return Page{}, err
	}
	params = pagination.Normalize(params.Page, params.PageSize)
	messages, total, err := a.store.ListInRange(ctx, f.Range, params.Offset, params.PageSize)
	if err != nil {
		return Page{}, fmt.Errorf("paged emails: %w", err)
	}
	return Page{
		Total:    total,
		Params:   params,
		HasNext:  pagination.HasNext(params, total),
		Messages: messages,
	}, nil
}

// DayReport counts one calendar day in the reporting zone and lists senders
// with more than two messages that day.
func (a *Aggregator) DayReport(ctx context.Context, date string) (DayReport, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return DayReport{}, ErrMissingDate
	}
	day, err := time.ParseInLocation(dateLayout, date, a.report)
	if err != nil {
		return DayReport{}, ErrInvalidDate
	}
	start := day.UTC()
	end := day.AddDate(0, 0, 1).UTC()
	r := store.Range{Start: &start, End: &end}

	report := DayReport{Date: date}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, err := a.store.CountInRange(gctx, r)
		report.Count = count
		return err
	})
	g.Go(func() error {
		senders, err := a.store.TopSendersInRange(gctx, r, notableSenderMin)
		report.Senders = senders
		return err
	})
	if err := g.Wait(); err != nil {
		return DayReport{}, fmt.Errorf("day report: %w", err)
	}
	return report, nil
}

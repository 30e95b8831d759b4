// Package holiday implements the holiday data core: a refresh
// orchestrator that keeps the two-slot cache current and a query
// facade with a resilient read path on top of it.
package holiday

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"holiday-telegram-bot/cache"
	"holiday-telegram-bot/calend"
)

// User-visible notices, fixed per failure case.
const (
	noticeNoHolidaysToday = "Не найдено праздников на сегодня."
	noticeNoHolidaysOn    = "Не найдено праздников на %s."
	noticeStaleData       = "Не удалось обновить данные о праздниках, показаны сохранённые ранее."
	noticeNoData          = "Не удалось получить данные о праздниках."
)

// Fetcher downloads the raw day-page markup for a calendar date.
type Fetcher interface {
	FetchDay(ctx context.Context, date time.Time) (string, error)
}

// Result is one answer to a holiday query. Notice is set if and only
// if Holidays is empty; its text depends on whether Date is the
// current day at generation time.
type Result struct {
	Date      time.Time
	Holidays  []string
	SourceURL string
	FetchedAt time.Time
	Notice    string
}

// HasData reports whether the result carries any holidays.
func (r *Result) HasData() bool {
	return len(r.Holidays) > 0
}

// Service bundles the cache store, the fetcher and the reference
// clock. All refreshes system-wide are serialized by its mutex;
// cache reads never take it.
type Service struct {
	store     *cache.Store
	fetcher   Fetcher
	loc       *time.Location
	now       func() time.Time
	sourceURL string

	refreshMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSourceURL overrides the base source URL recorded in entries.
func WithSourceURL(url string) Option {
	return func(s *Service) {
		s.sourceURL = url
	}
}

// NewService creates the holiday service. Times are interpreted in
// loc, the source's reference timezone.
func NewService(store *cache.Store, fetcher Fetcher, loc *time.Location, opts ...Option) *Service {
	s := &Service{
		store:     store,
		fetcher:   fetcher,
		loc:       loc,
		sourceURL: "https://www.calend.ru/day/",
	}
	s.now = func() time.Time { return time.Now().In(loc) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh fetches the current date pair and replaces both cache slots.
// In the [23:45,23:59] window it pre-fetches the next day into the
// today slot: the source publishes new data a few minutes after
// midnight, too late for a 00:00 autopost, so the lookahead files
// tomorrow's data under the slot autopost will read after rollover.
// At most one refresh runs at a time; concurrent callers block and
// then read the fresh slots from the store.
func (s *Service) Refresh(ctx context.Context) (*Result, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	now := s.now().In(s.loc)
	todayDate, tomorrowDate := refreshDates(now)
	slog.Info("refreshing holiday cache",
		"today", todayDate.Format(cache.ISODate),
		"tomorrow", tomorrowDate.Format(cache.ISODate),
		"lookahead", inLookaheadWindow(now))

	todayEntry, err := s.fetchDay(ctx, todayDate, now)
	if err != nil {
		return nil, err
	}
	tomorrowEntry, err := s.fetchDay(ctx, tomorrowDate, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetDays(todayEntry, tomorrowEntry, now); err != nil {
		return nil, err
	}
	slog.Info("holiday cache refreshed",
		"today_holidays", len(todayEntry.Holidays),
		"tomorrow_holidays", len(tomorrowEntry.Holidays))

	return s.entryToResult(todayEntry), nil
}

// fetchDay downloads and extracts one day. An empty extraction after a
// successful fetch is a valid data state, recorded as such.
func (s *Service) fetchDay(ctx context.Context, date, fetchedAt time.Time) (cache.DayEntry, error) {
	markup, err := s.fetcher.FetchDay(ctx, date)
	if err != nil {
		return cache.DayEntry{}, fmt.Errorf("fetch day %s: %w", date.Format(cache.ISODate), err)
	}
	holidays := calend.ExtractHolidays(markup, date)
	if len(holidays) == 0 {
		slog.Warn("no holidays extracted", "date", date.Format(cache.ISODate))
	}
	return cache.NewDayEntry(date, holidays, fetchedAt, s.dayURL(date)), nil
}

// CachedResult returns the cached result for a calendar date, scanning
// both slots by the entry's own date, or nil on a miss.
func (s *Service) CachedResult(date time.Time) *Result {
	entry, ok := s.store.EntryFor(date.In(s.loc))
	if !ok {
		return nil
	}
	return s.entryToResult(entry)
}

// EnsureForDate makes holidays for an exact date available. Cached
// dates are returned as-is; the current or next day triggers a full
// refresh; any other date is fetched directly without touching the
// cache slots. Fetch failures propagate as a failed lookup.
func (s *Service) EnsureForDate(ctx context.Context, date time.Time) (*Result, error) {
	date = date.In(s.loc)
	if res := s.CachedResult(date); res != nil {
		return res, nil
	}

	now := s.now().In(s.loc)
	if sameDay(date, now) || sameDay(date, now.AddDate(0, 0, 1)) {
		if _, err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return s.CachedResult(date), nil
	}

	markup, err := s.fetcher.FetchDay(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fetch day %s: %w", date.Format(cache.ISODate), err)
	}
	holidays := calend.ExtractHolidays(markup, date)

	res := &Result{
		Date:      date,
		Holidays:  holidays,
		SourceURL: s.dayURL(date),
		FetchedAt: now,
	}
	if len(holidays) == 0 {
		res.Notice = s.emptyNotice(date, now)
	}
	return res, nil
}

// GetToday answers "what are today's holidays" through a four-tier
// cascade: fresh cache, refresh, stale cache with a notice, synthetic
// empty result. It never fails; degraded tiers carry a notice instead.
func (s *Service) GetToday(ctx context.Context, forceRefresh bool) *Result {
	now := s.now().In(s.loc)

	if !forceRefresh {
		// An empty cache hit is not good enough: refresh may fix it.
		if res := s.CachedResult(now); res != nil && res.HasData() {
			return res
		}
	}

	res, err := s.Refresh(ctx)
	if err == nil && res != nil {
		return res
	}
	if err != nil {
		slog.Warn("failed to refresh holiday cache", "error", err)
	}

	if cached := s.CachedResult(now); cached != nil {
		cached.Notice = noticeStaleData
		return cached
	}

	fallback := &Result{
		Date:      now,
		Holidays:  []string{},
		SourceURL: s.sourceURL,
		FetchedAt: now,
		Notice:    noticeNoData,
	}
	if err := s.store.SetToday(cache.NewDayEntry(now, nil, now, s.sourceURL), now); err != nil {
		slog.Warn("failed to persist fallback entry", "error", err)
	}
	return fallback
}

// SelectAutopostHoliday picks the announcement holiday: the first
// entry not referencing the country name, else the first entry.
func SelectAutopostHoliday(holidays []string) (string, bool) {
	if len(holidays) == 0 {
		return "", false
	}
	for _, h := range holidays {
		low := strings.ToLower(h)
		if !strings.Contains(low, "россия") && !strings.Contains(low, "russia") {
			return h, true
		}
	}
	return holidays[0], true
}

func (s *Service) entryToResult(entry cache.DayEntry) *Result {
	date, err := time.ParseInLocation(cache.ISODate, entry.Date, s.loc)
	if err != nil {
		return nil
	}
	fetchedAt, err := time.Parse(time.RFC3339, entry.FetchedAt)
	if err != nil {
		fetchedAt = s.now()
	}
	sourceURL := entry.SourceURL
	if sourceURL == "" {
		sourceURL = s.sourceURL
	}

	res := &Result{
		Date:      date,
		Holidays:  append([]string(nil), entry.Holidays...),
		SourceURL: sourceURL,
		FetchedAt: fetchedAt.In(s.loc),
	}
	if len(res.Holidays) == 0 {
		res.Notice = s.emptyNotice(date, s.now().In(s.loc))
	}
	return res
}

// emptyNotice distinguishes "no holidays today" from "no holidays on a
// given date".
func (s *Service) emptyNotice(date, now time.Time) string {
	if sameDay(date, now) {
		return noticeNoHolidaysToday
	}
	return fmt.Sprintf(noticeNoHolidaysOn, date.Format("02.01.2006"))
}

func (s *Service) dayURL(date time.Time) string {
	return fmt.Sprintf("%s%s/", s.sourceURL, date.Format(cache.ISODate))
}

// refreshDates selects the date pair to fetch for a refresh moment.
func refreshDates(now time.Time) (today, tomorrow time.Time) {
	if inLookaheadWindow(now) {
		return now.AddDate(0, 0, 1), now.AddDate(0, 0, 2)
	}
	return now, now.AddDate(0, 0, 1)
}

// inLookaheadWindow reports whether now falls in [23:45,23:59].
func inLookaheadWindow(now time.Time) bool {
	return now.Hour() == 23 && now.Minute() >= 45
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

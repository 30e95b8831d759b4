package holiday

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"holiday-telegram-bot/cache"
	"holiday-telegram-bot/calend"
)

// fakeFetcher serves canned day pages keyed by ISO date.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	calls []string
}

func (f *fakeFetcher) FetchDay(_ context.Context, date time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format(cache.ISODate)
	f.calls = append(f.calls, key)
	if f.err != nil {
		return "", f.err
	}
	page, ok := f.pages[key]
	if !ok {
		return "<html></html>", nil
	}
	return page, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// dayPage builds a minimal day page holding the given holiday anchors.
func dayPage(date time.Time, names ...string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<div id="%s">`, calend.TargetDivID(date)))
	for _, name := range names {
		sb.WriteString(fmt.Sprintf(`<a href="/holidays/0/0/1/">%s</a>`, name))
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

func newTestService(t *testing.T, now time.Time, fetcher *fakeFetcher) (*Service, *cache.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := cache.Load(path, "00:00", 0, now)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	svc := NewService(store, fetcher, time.UTC,
		WithNow(func() time.Time { return now }),
		WithSourceURL(testSourceURL))
	return svc, store
}

const testSourceURL = "https://calendar.test/day/"

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestRefreshNormalDatePair(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
		"2025-06-11": dayPage(now.AddDate(0, 0, 1), "Holiday B"),
	}}
	svc, store := newTestService(t, now, fetcher)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if got := res.Date.Format(cache.ISODate); got != "2025-06-10" {
		t.Errorf("result date = %s, want 2025-06-10", got)
	}
	if len(res.Holidays) != 1 || res.Holidays[0] != "Holiday A" {
		t.Errorf("result holidays = %v", res.Holidays)
	}
	if res.SourceURL != testSourceURL+"2025-06-10/" {
		t.Errorf("source url = %q", res.SourceURL)
	}

	p := store.Snapshot()
	if p.Today.Date != "2025-06-10" || p.Tomorrow.Date != "2025-06-11" {
		t.Errorf("slots = %s / %s, want 2025-06-10 / 2025-06-11", p.Today.Date, p.Tomorrow.Date)
	}
	if got := fetcher.fetched(); len(got) != 2 {
		t.Errorf("fetch calls = %v, want two independent fetches", got)
	}
}

func TestRefreshLookaheadWindow(t *testing.T) {
	// At 23:50 refresh pre-fetches the next two days: the source
	// publishes new data only after midnight.
	now := at(2025, time.June, 10, 23, 50)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-11": dayPage(now.AddDate(0, 0, 1), "Holiday B"),
		"2025-06-12": dayPage(now.AddDate(0, 0, 2), "Holiday C"),
	}}
	svc, store := newTestService(t, now, fetcher)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	p := store.Snapshot()
	if p.Today.Date != "2025-06-11" || p.Tomorrow.Date != "2025-06-12" {
		t.Errorf("slots = %s / %s, want 2025-06-11 / 2025-06-12", p.Today.Date, p.Tomorrow.Date)
	}
	if got := res.Date.Format(cache.ISODate); got != "2025-06-11" {
		t.Errorf("result date = %s, want the today-slot date", got)
	}
}

func TestRefreshWindowBoundaries(t *testing.T) {
	tests := []struct {
		minute    int
		lookahead bool
	}{
		{44, false},
		{45, true},
		{59, true},
	}

	for _, tt := range tests {
		now := at(2025, time.June, 10, 23, tt.minute)
		today, _ := refreshDates(now)
		gotLookahead := today.Day() == 11
		if gotLookahead != tt.lookahead {
			t.Errorf("23:%02d: lookahead = %v, want %v", tt.minute, gotLookahead, tt.lookahead)
		}
	}
}

func TestRefreshEmptyDayIsValid(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{}} // pages with no anchors
	svc, store := newTestService(t, now, fetcher)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("empty extraction must not be an error: %v", err)
	}
	if res.HasData() {
		t.Errorf("holidays = %v, want empty", res.Holidays)
	}
	if res.Notice != "Не найдено праздников на сегодня." {
		t.Errorf("notice = %q", res.Notice)
	}

	p := store.Snapshot()
	if p.Today.Date != "2025-06-10" {
		t.Errorf("empty day must still be recorded, slots = %+v", p.Today)
	}
}

func TestRefreshFetchFailure(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	svc, store := newTestService(t, now, fetcher)

	before := store.Snapshot()
	if _, err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	after := store.Snapshot()
	if before.UpdatedAt != after.UpdatedAt {
		t.Error("failed refresh must not touch the payload")
	}
}

func TestRefreshSerializedNearMidnight(t *testing.T) {
	// A forced refresh just before the window and a scheduled one
	// inside it are totally ordered; the later one wins wholesale, so
	// the slots always hold one refresh's consistent pair.
	current := at(2025, time.June, 10, 23, 44)
	var mu sync.Mutex
	fetcher := &fakeFetcher{pages: map[string]string{}}

	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := cache.Load(path, "00:00", 0, current)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	svc := NewService(store, fetcher, time.UTC, WithNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}))

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	p := store.Snapshot()
	if p.Today.Date != "2025-06-10" || p.Tomorrow.Date != "2025-06-11" {
		t.Fatalf("slots after normal refresh = %s / %s", p.Today.Date, p.Tomorrow.Date)
	}

	mu.Lock()
	current = at(2025, time.June, 10, 23, 50)
	mu.Unlock()

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	p = store.Snapshot()
	if p.Today.Date != "2025-06-11" || p.Tomorrow.Date != "2025-06-12" {
		t.Errorf("slots after lookahead refresh = %s / %s, want 2025-06-11 / 2025-06-12",
			p.Today.Date, p.Tomorrow.Date)
	}
}

func TestCachedResultScansBothSlots(t *testing.T) {
	now := at(2025, time.June, 10, 23, 50)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-11": dayPage(now.AddDate(0, 0, 1), "Holiday B"),
	}}
	svc, _ := newTestService(t, now, fetcher)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// After the lookahead refresh the today slot holds 2025-06-11;
	// lookup by date must find it regardless of the slot label.
	res := svc.CachedResult(at(2025, time.June, 11, 0, 0))
	if res == nil || len(res.Holidays) != 1 || res.Holidays[0] != "Holiday B" {
		t.Fatalf("CachedResult = %+v", res)
	}
	if svc.CachedResult(at(2025, time.June, 13, 0, 0)) != nil {
		t.Error("unexpected hit for uncached date")
	}
}

func TestGetTodayFreshCacheHit(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
		"2025-06-11": dayPage(now.AddDate(0, 0, 1)),
	}}
	svc, _ := newTestService(t, now, fetcher)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	fetchesAfterRefresh := len(fetcher.fetched())

	res := svc.GetToday(context.Background(), false)
	if res.Notice != "" || len(res.Holidays) != 1 {
		t.Errorf("GetToday = %+v", res)
	}
	if len(fetcher.fetched()) != fetchesAfterRefresh {
		t.Error("fresh non-empty cache hit must not fetch")
	}
}

func TestGetTodayEmptyCacheHitTriggersRefresh(t *testing.T) {
	// The default payload has an empty today entry for the current
	// date; that hit is insufficient and a refresh must be attempted.
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
	}}
	svc, _ := newTestService(t, now, fetcher)

	res := svc.GetToday(context.Background(), false)
	if len(res.Holidays) != 1 || res.Holidays[0] != "Holiday A" {
		t.Errorf("GetToday = %+v, want refreshed data", res)
	}
}

func TestGetTodayFallsBackToStaleCache(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
		"2025-06-11": dayPage(now.AddDate(0, 0, 1)),
	}}
	svc, _ := newTestService(t, now, fetcher)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Subsequent fetches fail; the forced refresh falls back to the
	// previously saved entry with the stale-data notice.
	fetcher.mu.Lock()
	fetcher.err = errors.New("network down")
	fetcher.mu.Unlock()

	res := svc.GetToday(context.Background(), true)
	if len(res.Holidays) != 1 || res.Holidays[0] != "Holiday A" {
		t.Fatalf("GetToday = %+v, want stale cached data", res)
	}
	if res.Notice != "Не удалось обновить данные о праздниках, показаны сохранённые ранее." {
		t.Errorf("notice = %q", res.Notice)
	}
}

func TestGetTodaySyntheticEmptyResult(t *testing.T) {
	// Cache holds only stale dates and every fetch fails: GetToday
	// answers with a synthetic empty result and persists it.
	staleNow := at(2025, time.June, 1, 12, 0)
	now := at(2025, time.June, 10, 12, 0)

	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := cache.Load(path, "00:00", 0, staleNow)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	fetcher := &fakeFetcher{err: errors.New("network down")}
	svc := NewService(store, fetcher, time.UTC, WithNow(func() time.Time { return now }))

	res := svc.GetToday(context.Background(), false)
	if res.HasData() {
		t.Errorf("holidays = %v, want empty", res.Holidays)
	}
	if res.Notice != "Не удалось получить данные о праздниках." {
		t.Errorf("notice = %q", res.Notice)
	}
	if got := res.Date.Format(cache.ISODate); got != "2025-06-10" {
		t.Errorf("date = %s, want 2025-06-10", got)
	}

	// The synthetic result is now the today slot.
	entry, ok := store.EntryFor(now)
	if !ok {
		t.Fatal("synthetic result must be persisted for the current date")
	}
	if len(entry.Holidays) != 0 {
		t.Errorf("persisted holidays = %v, want empty", entry.Holidays)
	}
}

func TestEnsureForDateCachedHit(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
		"2025-06-11": dayPage(now.AddDate(0, 0, 1), "Holiday B"),
	}}
	svc, _ := newTestService(t, now, fetcher)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	calls := len(fetcher.fetched())

	res, err := svc.EnsureForDate(context.Background(), now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("EnsureForDate failed: %v", err)
	}
	if len(res.Holidays) != 1 || res.Holidays[0] != "Holiday B" {
		t.Errorf("result = %+v", res)
	}
	if len(fetcher.fetched()) != calls {
		t.Error("cached date must not fetch")
	}
}

func TestEnsureForDateTomorrowRefreshes(t *testing.T) {
	// Stale slots, asked for tomorrow: a full refresh runs and the
	// answer comes from the refilled cache.
	staleNow := at(2025, time.June, 1, 12, 0)
	now := at(2025, time.June, 10, 12, 0)

	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := cache.Load(path, "00:00", 0, staleNow)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
		"2025-06-11": dayPage(now.AddDate(0, 0, 1), "Holiday B"),
	}}
	svc := NewService(store, fetcher, time.UTC, WithNow(func() time.Time { return now }))

	res, err := svc.EnsureForDate(context.Background(), now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("EnsureForDate failed: %v", err)
	}
	if res == nil || len(res.Holidays) != 1 || res.Holidays[0] != "Holiday B" {
		t.Errorf("result = %+v", res)
	}
	if _, ok := store.EntryFor(now); !ok {
		t.Error("refresh should have filled the today slot too")
	}
}

func TestEnsureForDateDirectFetch(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	far := now.AddDate(0, 0, 30)
	fetcher := &fakeFetcher{pages: map[string]string{
		far.Format(cache.ISODate): dayPage(far, "Far Holiday"),
	}}
	svc, store := newTestService(t, now, fetcher)

	res, err := svc.EnsureForDate(context.Background(), far)
	if err != nil {
		t.Fatalf("EnsureForDate failed: %v", err)
	}
	if len(res.Holidays) != 1 || res.Holidays[0] != "Far Holiday" {
		t.Errorf("result = %+v", res)
	}

	// A direct fetch never touches the cache slots.
	if _, ok := store.EntryFor(far); ok {
		t.Error("direct fetch must not write cache slots")
	}
	if got := fetcher.fetched(); len(got) != 1 || got[0] != far.Format(cache.ISODate) {
		t.Errorf("fetch calls = %v", got)
	}
}

func TestEnsureForDateDirectFetchFailurePropagates(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{err: errors.New("network down")}
	svc, _ := newTestService(t, now, fetcher)

	if _, err := svc.EnsureForDate(context.Background(), now.AddDate(0, 0, 30)); err == nil {
		t.Fatal("expected direct fetch failure to propagate")
	}
}

func TestEnsureForDateEmptyDayNotice(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	far := now.AddDate(0, 0, 30)
	fetcher := &fakeFetcher{pages: map[string]string{}} // no anchors anywhere
	svc, _ := newTestService(t, now, fetcher)

	res, err := svc.EnsureForDate(context.Background(), far)
	if err != nil {
		t.Fatalf("EnsureForDate failed: %v", err)
	}
	if res.Notice != "Не найдено праздников на 10.07.2025." {
		t.Errorf("notice = %q", res.Notice)
	}
}

func TestSelectAutopostHoliday(t *testing.T) {
	tests := []struct {
		name     string
		holidays []string
		want     string
		ok       bool
	}{
		{"prefers entry without country name", []string{"Россия: день единства", "День отечества"}, "День отечества", true},
		{"latin spelling also skipped", []string{"Russia Day", "Programmer Day"}, "Programmer Day", true},
		{"all reference country", []string{"Россия: день единства"}, "Россия: день единства", true},
		{"case insensitive", []string{"РОССИЯ: день единства", "Праздник весны"}, "Праздник весны", true},
		{"declined form not matched", []string{"День воссоединения с Россией", "Праздник весны"}, "День воссоединения с Россией", true},
		{"empty input", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectAutopostHoliday(tt.holidays)
			if got != tt.want || ok != tt.ok {
				t.Errorf("SelectAutopostHoliday(%v) = (%q, %v), want (%q, %v)",
					tt.holidays, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	now := at(2025, time.June, 10, 12, 0)
	fetcher := &fakeFetcher{pages: map[string]string{
		"2025-06-10": dayPage(now, "Holiday A"),
		"2025-06-11": dayPage(now.AddDate(0, 0, 1), "Holiday B"),
	}}
	svc, _ := newTestService(t, now, fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Serialized refreshes: each performs its own pair of fetches,
	// but never interleaved; call log length is exactly 2 per refresh.
	if got := len(fetcher.fetched()); got != 10 {
		t.Errorf("fetch calls = %d, want 10", got)
	}
}

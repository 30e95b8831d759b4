package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ISODate is the wire format of calendar dates in the cache file.
const ISODate = "2006-01-02"

// ErrInvalidTime is returned when a time-of-day string is not a valid
// HH:MM value. It always propagates to the caller; malformed input is
// never coerced to a default.
var ErrInvalidTime = errors.New("invalid time of day, expected HH:MM")

// DayEntry is one persisted day snapshot. The slot holding it is
// positional; the entry's own Date is authoritative.
type DayEntry struct {
	Date      string   `json:"date"`
	Holidays  []string `json:"holidays"`
	FetchedAt string   `json:"fetched_at"`
	SourceURL string   `json:"source_url"`
}

// NewDayEntry builds a day snapshot for the given calendar date.
func NewDayEntry(date time.Time, holidays []string, fetchedAt time.Time, sourceURL string) DayEntry {
	if holidays == nil {
		holidays = []string{}
	}
	return DayEntry{
		Date:      date.Format(ISODate),
		Holidays:  holidays,
		FetchedAt: fetchedAt.Format(time.RFC3339),
		SourceURL: sourceURL,
	}
}

// Payload is the full persisted cache document.
type Payload struct {
	AutopostTime       string         `json:"autopost_time"`
	UpdatedAt          string         `json:"updated_at"`
	Today              DayEntry       `json:"today"`
	Tomorrow           DayEntry       `json:"tomorrow"`
	AutopostMessageIDs map[string]int `json:"autopost_message_ids"`
	OriginalChatTitle  string         `json:"original_chat_title,omitempty"`

	// LegacyMessageID is the pre-migration single message id field.
	// It is consumed once at load time and dropped from disk.
	LegacyMessageID *int `json:"autopost_message_id,omitempty"`
}

// Store owns the cache payload. All mutation goes through its methods,
// is serialized by the store mutex and persisted by a whole-file
// rewrite, so readers always observe a complete payload.
type Store struct {
	path    string
	mu      sync.Mutex
	payload Payload
	changed chan struct{}
}

// Load binds the store to a cache file. A missing or unparsable file
// is replaced with a default payload (current date as today, empty
// holiday lists, the supplied autopost time) and persisted right away.
// A legacy single message id is migrated into the per-chat mapping
// under legacyChatID (or dropped when legacyChatID is zero).
func Load(path, defaultAutopostTime string, legacyChatID int64, now time.Time) (*Store, error) {
	if _, err := NormalizeTime(defaultAutopostTime); err != nil {
		return nil, fmt.Errorf("default autopost time: %w", err)
	}

	s := &Store{
		path:    path,
		changed: make(chan struct{}, 1),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &s.payload); jsonErr != nil {
			slog.Warn("holiday cache corrupted, recreating", "path", path, "error", jsonErr)
			s.payload = defaultPayload(defaultAutopostTime, now)
		}
	case os.IsNotExist(err):
		s.payload = defaultPayload(defaultAutopostTime, now)
	default:
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	s.heal(defaultAutopostTime, legacyChatID, now)

	if err := s.write(); err != nil {
		return nil, err
	}
	return s, nil
}

// heal fills in any slot or field an older or hand-edited file may
// lack, so persisted state always carries both slots, an autopost time
// and the message id mapping.
func (s *Store) heal(defaultAutopostTime string, legacyChatID int64, now time.Time) {
	if normalized, err := NormalizeTime(s.payload.AutopostTime); err == nil {
		s.payload.AutopostTime = normalized
	} else {
		s.payload.AutopostTime = defaultAutopostTime
	}
	if s.payload.Today.Date == "" {
		s.payload.Today = NewDayEntry(now, nil, now, "")
	}
	if s.payload.Tomorrow.Date == "" {
		s.payload.Tomorrow = NewDayEntry(now.AddDate(0, 0, 1), nil, now, "")
	}
	if s.payload.UpdatedAt == "" {
		s.payload.UpdatedAt = now.Format(time.RFC3339)
	}
	if s.payload.AutopostMessageIDs == nil {
		s.payload.AutopostMessageIDs = map[string]int{}
	}
	if s.payload.LegacyMessageID != nil {
		if legacyChatID != 0 && len(s.payload.AutopostMessageIDs) == 0 {
			s.payload.AutopostMessageIDs[chatKey(legacyChatID)] = *s.payload.LegacyMessageID
		}
		s.payload.LegacyMessageID = nil
	}
}

func defaultPayload(autopostTime string, now time.Time) Payload {
	return Payload{
		AutopostTime:       autopostTime,
		UpdatedAt:          now.Format(time.RFC3339),
		Today:              NewDayEntry(now, nil, now, ""),
		Tomorrow:           NewDayEntry(now.AddDate(0, 0, 1), nil, now, ""),
		AutopostMessageIDs: map[string]int{},
	}
}

// Changed exposes the autopost-time change signal. The channel is
// buffered; sends never block and coalesce.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// AutopostTime returns the configured time of day for autoposting.
func (s *Store) AutopostTime() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload.AutopostTime
}

// SetAutopostTime validates, normalizes and persists a new autopost
// time, then fires the change signal. Returns the normalized value.
func (s *Store) SetAutopostTime(value string) (string, error) {
	normalized, err := NormalizeTime(value)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.payload.AutopostTime == normalized {
		s.mu.Unlock()
		return normalized, nil
	}
	s.payload.AutopostTime = normalized
	err = s.write()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	select {
	case s.changed <- struct{}{}:
	default:
	}
	return normalized, nil
}

// MessageID returns the last pinned autopost message id for a chat.
func (s *Store) MessageID(chatID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.payload.AutopostMessageIDs[chatKey(chatID)]
	return id, ok
}

// SetMessageID records the last pinned autopost message id for a chat.
func (s *Store) SetMessageID(chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload.AutopostMessageIDs[chatKey(chatID)] = messageID
	return s.write()
}

// ClearMessageID forgets the pinned message id for a chat.
func (s *Store) ClearMessageID(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payload.AutopostMessageIDs, chatKey(chatID))
	return s.write()
}

// OriginalChatTitle returns the stored chat title without decoration.
func (s *Store) OriginalChatTitle() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload.OriginalChatTitle, s.payload.OriginalChatTitle != ""
}

// SetOriginalChatTitle stores the undecorated chat title. An empty
// title clears it.
func (s *Store) SetOriginalChatTitle(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload.OriginalChatTitle = title
	return s.write()
}

// EntryFor scans both slots for an entry whose own date matches the
// given calendar date. Slot labels are never trusted: after a
// near-midnight refresh the today slot holds the next calendar day.
func (s *Store) EntryFor(date time.Time) (DayEntry, bool) {
	want := date.Format(ISODate)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range []DayEntry{s.payload.Today, s.payload.Tomorrow} {
		if entry.Date == want {
			return entry, true
		}
	}
	return DayEntry{}, false
}

// SetDays replaces both slots wholesale and stamps the update time.
func (s *Store) SetDays(today, tomorrow DayEntry, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload.Today = today
	s.payload.Tomorrow = tomorrow
	s.payload.UpdatedAt = updatedAt.Format(time.RFC3339)
	return s.write()
}

// SetToday replaces only the today slot, leaving tomorrow untouched.
func (s *Store) SetToday(entry DayEntry, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload.Today = entry
	s.payload.UpdatedAt = updatedAt.Format(time.RFC3339)
	return s.write()
}

// Snapshot returns a copy of the current payload.
func (s *Store) Snapshot() Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.payload
	p.AutopostMessageIDs = make(map[string]int, len(s.payload.AutopostMessageIDs))
	for k, v := range s.payload.AutopostMessageIDs {
		p.AutopostMessageIDs[k] = v
	}
	return p
}

// write persists the payload as one whole-file rewrite. Callers must
// hold the store mutex.
func (s *Store) write() error {
	data, err := json.MarshalIndent(s.payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// NormalizeTime validates an HH:MM string and returns it zero-padded.
// Accepts single-digit hours or minutes; rejects anything else with
// ErrInvalidTime.
func NormalizeTime(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 {
		return "", ErrInvalidTime
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", ErrInvalidTime
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", ErrInvalidTime
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", ErrInvalidTime
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

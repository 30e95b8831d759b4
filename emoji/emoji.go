// Package emoji maps holiday-name fragments to decorative emoji.
// The mapping lives in a JSON file next to the binary so operators can
// extend it without a rebuild.
package emoji

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DefaultEmoji decorates holidays with no matching fragment.
const DefaultEmoji = "🎉"

// Fragment pairs a lowercase holiday-name substring with an emoji.
type Fragment struct {
	Frag  string `json:"frag"`
	Emoji string `json:"emoji"`
}

var defaultFragments = []Fragment{
	{"23 февр", "🪖"},
	{"отечест", "🪖"},
	{"новый год", "🎉"},
	{"рождество", "🎄"},
	{"пасха", "✝️"},
	{"победа", "🎖️"},
	{"8 март", "🌷"},
	{"женский", "🌷"},
	{"валентин", "💘"},
	{"влюбл", "💘"},
	{"маслениц", "🥞"},
	{"труд", "🛠️"},
	{"мать", "🤱"},
	{"отец", "👨‍👧"},
	{"день рождения", "🎂"},
	{"юбилей", "🎂"},
	{"город", "🏙️"},
	{"флаг", "🏳️"},
	{"язык", "🗣️"},
	{"экскурс", "🧭"},
	{"фельдшер", "🩺"},
	{"полярн", "🐻‍❄️"},
	{"оптимист", "😄"},
}

// Table is an ordered fragment lookup. Order matters: the first
// matching fragment wins.
type Table struct {
	fragments []Fragment
}

// LoadTable reads the fragment table from path. A missing file is
// bootstrapped with the default table; an unreadable or empty one
// falls back to the defaults without rewriting.
func LoadTable(path string) *Table {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t := &Table{fragments: defaultFragments}
		if writeErr := writeDefaults(path); writeErr != nil {
			slog.Warn("failed to write default emoji table", "path", path, "error", writeErr)
		}
		return t
	}
	if err != nil {
		slog.Warn("failed to read emoji table, using defaults", "path", path, "error", err)
		return &Table{fragments: defaultFragments}
	}

	var fragments []Fragment
	if err := json.Unmarshal(data, &fragments); err != nil || len(fragments) == 0 {
		slog.Warn("emoji table invalid or empty, using defaults", "path", path, "error", err)
		return &Table{fragments: defaultFragments}
	}
	return &Table{fragments: fragments}
}

func writeDefaults(path string) error {
	data, err := json.MarshalIndent(defaultFragments, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default fragments: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// EmojiFor returns the emoji whose fragment first matches the
// lowercased holiday name.
func (t *Table) EmojiFor(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	low := strings.ToLower(name)
	for _, f := range t.fragments {
		if strings.Contains(low, f.Frag) {
			return f.Emoji, true
		}
	}
	return "", false
}

// Decorate prefixes a holiday name with its emoji, or the generic one.
func (t *Table) Decorate(name string) string {
	em, ok := t.EmojiFor(name)
	if !ok {
		em = DefaultEmoji
	}
	return em + " " + name
}

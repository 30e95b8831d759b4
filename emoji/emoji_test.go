package emoji

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEmojiFor(t *testing.T) {
	table := &Table{fragments: []Fragment{
		{"отечест", "🪖"},
		{"рождество", "🎄"},
		{"город", "🏙️"},
	}}

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"substring match", "День защитника Отечества", "🪖", true},
		{"case insensitive", "РОЖДЕСТВО Христово", "🎄", true},
		{"no match", "День программиста", "", false},
		{"empty name", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.EmojiFor(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("EmojiFor(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestEmojiForFirstMatchWins(t *testing.T) {
	table := &Table{fragments: []Fragment{
		{"день", "1️⃣"},
		{"город", "2️⃣"},
	}}

	got, ok := table.EmojiFor("День города")
	if !ok || got != "1️⃣" {
		t.Errorf("EmojiFor = (%q, %v), want the first fragment in table order", got, ok)
	}
}

func TestDecorate(t *testing.T) {
	table := &Table{fragments: []Fragment{{"флаг", "🏳️"}}}

	if got := table.Decorate("День флага"); got != "🏳️ День флага" {
		t.Errorf("Decorate = %q", got)
	}
	if got := table.Decorate("День программиста"); got != DefaultEmoji+" День программиста" {
		t.Errorf("Decorate without match = %q, want default emoji prefix", got)
	}
}

func TestLoadTableBootstrapsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emojis.json")

	table := LoadTable(path)
	if _, ok := table.EmojiFor("День защитника Отечества"); !ok {
		t.Error("bootstrapped table must carry the defaults")
	}

	// The defaults are written out for the operator to edit.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default table was not written: %v", err)
	}
	var fragments []Fragment
	if err := json.Unmarshal(data, &fragments); err != nil {
		t.Fatalf("written table is not valid JSON: %v", err)
	}
	if len(fragments) != len(defaultFragments) {
		t.Errorf("written %d fragments, want %d", len(fragments), len(defaultFragments))
	}
}

func TestLoadTableReadsCustomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emojis.json")
	custom := []Fragment{{"кофе", "☕"}}
	data, _ := json.Marshal(custom)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	table := LoadTable(path)
	if got, ok := table.EmojiFor("День кофе"); !ok || got != "☕" {
		t.Errorf("EmojiFor = (%q, %v), want custom fragment", got, ok)
	}
	if _, ok := table.EmojiFor("День защитника Отечества"); ok {
		t.Error("custom table must fully replace the defaults")
	}
}

func TestLoadTableInvalidFileFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"corrupt json", "{not json"},
		{"empty list", "[]"},
		{"wrong shape", `{"frag": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "emojis.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			table := LoadTable(path)
			if _, ok := table.EmojiFor("День защитника Отечества"); !ok {
				t.Error("invalid table must fall back to defaults")
			}

			// Fallback never clobbers the operator's file.
			data, err := os.ReadFile(path)
			if err != nil || string(data) != tt.content {
				t.Error("fallback must leave the file untouched")
			}
		})
	}
}

package calend

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// holidayLinkMarker identifies anchors that point at holiday pages.
const holidayLinkMarker = "/holidays/0/0/"

// TargetDivID computes the id of the day container for a date.
// calend.ru writes month and day without leading zeros:
// div_2025-12-2, not div_2025-12-02.
func TargetDivID(date time.Time) string {
	return fmt.Sprintf("div_%d-%d-%d", date.Year(), int(date.Month()), date.Day())
}

// ExtractHolidays pulls the holiday names for the given date out of a
// day page. It scans for the div whose id matches the date, then
// collects the text of every holiday anchor inside it, in document
// order and with duplicates kept. A missing container or a container
// without anchors yields an empty result, not an error.
func ExtractHolidays(markup string, date time.Time) []string {
	targetID := TargetDivID(date)
	tokenizer := html.NewTokenizer(strings.NewReader(markup))

	var (
		holidays []string
		depth    int  // nesting depth inside the target div; 0 = outside
		capture  bool // inside a holiday anchor
		buf      strings.Builder
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// End of document (or malformed tail); either way the
			// parse is done.
			return holidays

		case html.StartTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "div":
				if depth > 0 {
					depth++
				} else if attrValue(token, "id") == targetID {
					depth = 1
				}
			case "a":
				if depth > 0 && !capture &&
					strings.Contains(attrValue(token, "href"), holidayLinkMarker) {
					capture = true
					buf.Reset()
				}
			}

		case html.EndTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "div":
				if depth > 0 {
					depth--
					if depth == 0 {
						capture = false
					}
				}
			case "a":
				if capture {
					if text := strings.TrimSpace(buf.String()); text != "" {
						holidays = append(holidays, text)
					}
					capture = false
					buf.Reset()
				}
			}

		case html.TextToken:
			if capture {
				buf.WriteString(tokenizer.Token().Data)
			}
		}
	}
}

func attrValue(token html.Token, name string) string {
	for _, attr := range token.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

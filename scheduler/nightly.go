package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Nightly runs the pre-midnight cache refresh on a cron schedule,
// putting the lookahead date pair in place before the midnight
// autopost reads it.
type Nightly struct {
	cron     *cron.Cron
	location *time.Location
	mu       sync.Mutex
	entryID  cron.EntryID
	started  bool
}

// NewNightly creates a nightly refresh scheduler in the given zone.
func NewNightly(loc *time.Location) *Nightly {
	return &Nightly{
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
	}
}

// Schedule sets up the daily refresh at the specified time (HH:MM).
// Rescheduling replaces the previous job.
func (n *Nightly) Schedule(timeStr string, fn func()) error {
	hour, minute, err := parseTime(timeStr)
	if err != nil {
		return err
	}

	spec := buildCronSpec(hour, minute)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.entryID != 0 {
		n.cron.Remove(n.entryID)
	}

	entryID, err := n.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	n.entryID = entryID

	return nil
}

// Start begins the scheduler.
func (n *Nightly) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		n.cron.Start()
		n.started = true
	}
}

// Stop halts the scheduler.
func (n *Nightly) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		n.cron.Stop()
		n.started = false
	}
}

func parseTime(timeStr string) (int, int, error) {
	matches := timeRegex.FindStringSubmatch(timeStr)
	if len(matches) != 3 {
		return 0, 0, fmt.Errorf("invalid time format: %q (expected HH:MM)", timeStr)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	return hour, minute, nil
}

func buildCronSpec(hour, minute int) string {
	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

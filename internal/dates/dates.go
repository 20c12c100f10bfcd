// Package dates parses the portal's assorted deadline formats.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	daysRe    = regexp.MustCompile(`(\d+)\s*days?`)
	hoursRe   = regexp.MustCompile(`(\d+)\s*hours?`)
	minutesRe = regexp.MustCompile(`(\d+)\s*minutes?`)
)

// Absolute layouts the portal emits, in order of preference.
var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Jan 2, 2006 at 3:04 PM",
	"January 2, 2006 at 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"2 Jan 2006, 3:04 PM",
	"2 January 2006, 3:04 PM",
	"02/01/2006 3:04 PM",
	"02/01/2006 15:04",
	"01/02/2006 15:04",
	"02-01-2006 15:04",
	"2006-01-02 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"02-01-06",
	"2006-01-02",
}

// ParseDeadline converts a raw deadline string into a time. Relative forms
// like "Will be closed after: 1 days, 11 hours" are resolved against now.
// "Will be opened at:" marks a not-yet-open task and yields no deadline.
// Returns ok=false when the string carries no usable deadline.
func ParseDeadline(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\n", " "))
	if s == "" || strings.Contains(s, "N/A") || strings.Contains(s, "Unknown") {
		return time.Time{}, false
	}

	lower := strings.ToLower(s)
	if strings.Contains(lower, "will be closed after:") {
		return parseRelative(s, now)
	}
	if strings.Contains(lower, "will be opened at:") {
		return time.Time{}, false
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseRelative(s string, now time.Time) (time.Time, bool) {
	var days, hours, minutes int
	matched := false
	if m := daysRe.FindStringSubmatch(s); m != nil {
		days, _ = strconv.Atoi(m[1])
		matched = true
	}
	if m := hoursRe.FindStringSubmatch(s); m != nil {
		hours, _ = strconv.Atoi(m[1])
		matched = true
	}
	if m := minutesRe.FindStringSubmatch(s); m != nil {
		minutes, _ = strconv.Atoi(m[1])
		matched = true
	}
	if !matched {
		return time.Time{}, false
	}
	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute
	return now.Add(d), true
}

// Display renders a deadline in the portal's long form.
func Display(t time.Time) string {
	return t.Format("Jan 2, 2006 at 3:04 PM")
}

// Relative renders the distance from now in coarse human terms.
func Relative(t, now time.Time) string {
	d := t.Sub(now)
	switch {
	case d < 0:
		return "Overdue"
	case d >= 24*time.Hour:
		return fmt.Sprintf("In %d days", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("In %d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("In %d minutes", int(d.Minutes()))
	}
}

package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"conductor/internal/documents"
	"conductor/internal/fault"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	usDateRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	inDaysRe  = regexp.MustCompile(`^in (\d+) days?$`)
	weekdayRe = regexp.MustCompile(`^(this|next) ([a-z]+)$`)
)

// ResolveDate turns a natural-language date string into a calendar day.
// Recognized: ISO YYYY-MM-DD, US MM/DD/YYYY, today/tomorrow/yesterday,
// "this <weekday>", "next <weekday>", "next week" (the coming Monday), and
// "in N days". An empty string resolves to today.
func ResolveDate(s string, today documents.Date) (documents.Date, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "today":
		return today, nil
	case "tomorrow":
		return addDays(today, 1), nil
	case "yesterday":
		return addDays(today, -1), nil
	case "next week":
		return nextWeekday(today, time.Monday), nil
	}
	if d, err := documents.ParseDate(s); err == nil {
		return d, nil
	}
	if m := usDateRe.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return documents.Date{}, fault.Input("date %q", s)
		}
		return documents.NewDate(year, time.Month(month), day), nil
	}
	if m := inDaysRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return addDays(today, n), nil
	}
	if m := weekdayRe.FindStringSubmatch(s); m != nil {
		wd, ok := weekdays[m[2]]
		if !ok {
			return documents.Date{}, fault.Input("weekday %q", m[2])
		}
		if m[1] == "this" {
			return thisWeekday(today, wd), nil
		}
		return nextWeekday(today, wd), nil
	}
	return documents.Date{}, fault.Input("date %q", s)
}

// ExtractDate scans free text for a date phrase and resolves it. The bool
// reports whether anything was found.
func ExtractDate(text string, today documents.Date) (documents.Date, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range []string{"today", "tomorrow", "yesterday", "next week"} {
		if containsWord(lower, phrase) {
			d, _ := ResolveDate(phrase, today)
			return d, true
		}
	}
	if m := regexp.MustCompile(`\d{4}-\d{2}-\d{2}`).FindString(lower); m != "" {
		d, err := ResolveDate(m, today)
		if err == nil {
			return d, true
		}
	}
	if m := regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`).FindString(lower); m != "" {
		d, err := ResolveDate(m, today)
		if err == nil {
			return d, true
		}
	}
	if m := regexp.MustCompile(`(this|next) (sunday|monday|tuesday|wednesday|thursday|friday|saturday)`).FindString(lower); m != "" {
		d, err := ResolveDate(m, today)
		if err == nil {
			return d, true
		}
	}
	if m := regexp.MustCompile(`in \d+ days?`).FindString(lower); m != "" {
		d, err := ResolveDate(m, today)
		if err == nil {
			return d, true
		}
	}
	return today, false
}

func containsWord(text, phrase string) bool {
	idx := strings.Index(text, phrase)
	if idx < 0 {
		return false
	}
	before := idx == 0 || !isAlnum(text[idx-1])
	afterIdx := idx + len(phrase)
	after := afterIdx >= len(text) || !isAlnum(text[afterIdx])
	return before && after
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func addDays(d documents.Date, n int) documents.Date {
	return documents.Date{Time: d.AddDate(0, 0, n)}
}

// thisWeekday is the occurrence within the current week (today counts).
func thisWeekday(today documents.Date, wd time.Weekday) documents.Date {
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	return addDays(today, delta)
}

// nextWeekday is the next strictly-future occurrence.
func nextWeekday(today documents.Date, wd time.Weekday) documents.Date {
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return addDays(today, delta)
}

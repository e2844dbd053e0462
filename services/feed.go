package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// StayEvent is one booking interval extracted from a calendar feed.
type StayEvent struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// ParseFeed scans an iCalendar-family feed body and returns the stay events
// it contains. Events missing a UID or either boundary timestamp are dropped
// silently; a broken event never fails the whole feed. Parsing the same text
// twice yields identical sequences.
func ParseFeed(raw string) []StayEvent {
	lines := unfoldLines(raw)

	var events []StayEvent
	var current *StayEvent

	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			current = &StayEvent{}
		case line == "END:VEVENT":
			if current != nil && current.UID != "" && !current.Start.IsZero() && !current.End.IsZero() {
				events = append(events, *current)
			}
			current = nil
		case current != nil:
			key, value, ok := splitContentLine(line)
			if !ok {
				continue
			}
			switch key {
			case "UID":
				current.UID = value
			case "SUMMARY":
				current.Summary = unescapeText(value)
			case "DESCRIPTION":
				current.Description = unescapeText(value)
			case "DTSTART":
				current.Start = parseFeedTime(value)
			case "DTEND":
				current.End = parseFeedTime(value)
			}
		}
	}

	return events
}

// unfoldLines splits the feed into logical lines: a physical line starting
// with a space or tab continues the previous one (RFC 5545 folding).
func unfoldLines(raw string) []string {
	physical := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var logical []string
	for _, line := range physical {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(logical) > 0 {
			logical[len(logical)-1] += line[1:]
			continue
		}
		logical = append(logical, line)
	}
	return logical
}

// splitContentLine splits "KEY;PARAMS:value" into the bare key and value.
func splitContentLine(line string) (key, value string, ok bool) {
	i := strings.Index(line, ":")
	if i < 0 {
		return "", "", false
	}
	key = line[:i]
	value = line[i+1:]
	if j := strings.Index(key, ";"); j >= 0 {
		key = key[:j]
	}
	return strings.ToUpper(strings.TrimSpace(key)), strings.TrimSpace(value), true
}

func unescapeText(v string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(v)
}

// parseFeedTime handles the two timestamp forms feeds use: an 8-digit
// whole-day date and YYYYMMDDThhmmss with an optional trailing Z. Whole-day
// dates are normalized to local noon UTC so date math cannot shift a day
// across timezones. Anything else yields the zero time and the event is
// dropped by the caller.
func parseFeedTime(v string) time.Time {
	if len(v) == 8 && allDigits(v) {
		year, _ := strconv.Atoi(v[0:4])
		month, _ := strconv.Atoi(v[4:6])
		day, _ := strconv.Atoi(v[6:8])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}
		}
		return time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC)
	}

	if len(v) >= 15 && v[8] == 'T' && allDigits(v[0:8]) && allDigits(v[9:15]) {
		year, _ := strconv.Atoi(v[0:4])
		month, _ := strconv.Atoi(v[4:6])
		day, _ := strconv.Atoi(v[6:8])
		hour, _ := strconv.Atoi(v[9:11])
		min, _ := strconv.Atoi(v[11:13])
		sec, _ := strconv.Atoi(v[13:15])
		if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || min > 59 || sec > 60 {
			return time.Time{}
		}
		return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	}

	return time.Time{}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

var reservedNamePattern = regexp.MustCompile(`(?i)reserved\s*-\s*(.+)`)

// GuestNameFromEvent extracts a guest label from a stay event's summary and
// description. Best effort: it never fails, falling back to a generic label
// when the text gives nothing usable.
func GuestNameFromEvent(summary, description string) string {
	s := strings.TrimSpace(summary)
	d := strings.TrimSpace(description)

	lowered := strings.ToLower(s + " " + d)
	if strings.Contains(lowered, "blocked") || strings.Contains(lowered, "not available") {
		return "Blocked"
	}

	if m := reservedNamePattern.FindStringSubmatch(s); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	if m := reservedNamePattern.FindStringSubmatch(d); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}

	if s != "" && len(s) <= 60 {
		return s
	}
	if d != "" {
		line := strings.TrimSpace(strings.SplitN(d, "\n", 2)[0])
		if line != "" {
			return line
		}
	}
	if s != "" {
		return s
	}
	return "Guest"
}

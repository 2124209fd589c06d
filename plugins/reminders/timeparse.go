package reminders

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"remindbot/internal/reminder"
)

var (
	errNoTime   = errors.New("missing time")
	errBadTime  = errors.New("unrecognised time")
	errTooLarge = errors.New("time too far in the future")
)

// maxAhead bounds relative times so sums cannot overflow time.Duration.
const maxAhead = reminder.MaxAhead

var unitDurations = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "wk": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

var (
	// one or more <number><unit> pairs glued together: "2h30m", "90minutes"
	compactRe = regexp.MustCompile(`^(?:\d+[a-z]+)+$`)
	pairRe    = regexp.MustCompile(`(\d+)([a-z]+)`)
	dateRe    = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)
	clockRe   = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

// when is a parsed /remind time.
type when struct {
	At       time.Time
	Delta    time.Duration // zero for absolute times
	Absolute bool
	// Rest is the input after the time words, untouched.
	Rest string
}

type token struct {
	text       string
	start, end int
}

func tokenize(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, token{text: s[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, token{text: s[start:], start: start, end: len(s)})
	}
	return out
}

// parseWhen reads a leading duration ("2h30m", "2 days 16 hr", "in 90 minutes")
// or absolute date ("2024-01-01 08:00", "2024-01-01") from s. Absolute dates
// are read in loc with minute precision.
func parseWhen(s string, now time.Time, loc *time.Location) (when, error) {
	toks := tokenize(s)
	if len(toks) == 0 {
		return when{}, errNoTime
	}
	if loc == nil {
		loc = time.UTC
	}
	rest := func(used int) string {
		if used >= len(toks) {
			return ""
		}
		return strings.TrimSpace(s[toks[used].start:])
	}

	if dateRe.MatchString(toks[0].text) {
		layout, value, used := "2006-1-2", toks[0].text, 1
		if len(toks) > 1 && clockRe.MatchString(toks[1].text) {
			layout, value, used = "2006-1-2 15:04", value+" "+toks[1].text, 2
		}
		at, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			return when{}, errBadTime
		}
		return when{At: at, Absolute: true, Rest: rest(used)}, nil
	}

	i := 0
	if strings.EqualFold(toks[0].text, "in") && len(toks) > 1 {
		i = 1
	}
	var total time.Duration
	matched := false
	for i < len(toks) {
		word := strings.ToLower(toks[i].text)
		if compactRe.MatchString(word) {
			d, ok := sumPairs(word)
			if !ok {
				break
			}
			total += d
			matched = true
			i++
		} else if n, err := strconv.Atoi(word); err == nil && i+1 < len(toks) {
			unit, ok := unitDurations[strings.ToLower(toks[i+1].text)]
			if !ok {
				break
			}
			d, ok := scale(n, unit)
			if !ok {
				return when{}, errTooLarge
			}
			total += d
			matched = true
			i += 2
		} else {
			break
		}
		if total > maxAhead {
			return when{}, errTooLarge
		}
	}
	if !matched {
		return when{}, errBadTime
	}
	if total <= 0 {
		return when{}, errBadTime
	}
	return when{At: now.Add(total), Delta: total, Rest: rest(i)}, nil
}

func sumPairs(word string) (time.Duration, bool) {
	var total time.Duration
	for _, m := range pairRe.FindAllStringSubmatch(word, -1) {
		unit, ok := unitDurations[m[2]]
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		d, ok := scale(n, unit)
		if !ok {
			return 0, false
		}
		total += d
		if total > maxAhead {
			return 0, false
		}
	}
	return total, true
}

func scale(n int, unit time.Duration) (time.Duration, bool) {
	if n < 0 || time.Duration(n) > maxAhead/unit {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

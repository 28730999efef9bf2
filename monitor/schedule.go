package monitor

import (
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is one wall-clock trigger time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	h := strconv.Itoa(t.Hour)
	if len(h) == 1 {
		h = "0" + h
	}
	m := strconv.Itoa(t.Minute)
	if len(m) == 1 {
		m = "0" + m
	}
	return h + ":" + m
}

// Schedule is a parsed channel schedule: either continuous polling, or a
// set of daily trigger times.
type Schedule struct {
	Continuous bool
	Times      []TimeOfDay
}

// ParseSchedule parses a comma-separated list of HH:MM tokens. A blank
// string means continuous. Malformed tokens are dropped silently; the
// result may therefore hold zero times, which is distinct from continuous
// and callers must fall back to continuous mode with a warning.
func ParseSchedule(spec string) Schedule {
	if strings.TrimSpace(spec) == "" {
		return Schedule{Continuous: true}
	}

	var times []TimeOfDay
	for _, token := range strings.Split(spec, ",") {
		if t, ok := parseToken(strings.TrimSpace(token)); ok {
			times = append(times, t)
		}
	}
	return Schedule{Times: times}
}

func parseToken(token string) (TimeOfDay, bool) {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, false
	}
	return TimeOfDay{Hour: hour, Minute: minute}, true
}

// Matches reports whether t falls on one of the schedule's trigger minutes,
// in t's own location.
func (s Schedule) Matches(t time.Time) bool {
	for _, tod := range s.Times {
		if t.Hour() == tod.Hour && t.Minute() == tod.Minute {
			return true
		}
	}
	return false
}

package poller

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Spec is a normalized schedule: either a cron expression or a fixed
// interval.
//
// Supported forms:
//   - Cron: "*/10 * * * *", "@hourly", "@every 10m"
//   - Duration: "10m", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes), "02:30" (2.5 hours)
//
// Optional prefixes "cron:" and "interval:"/"every:" force one
// interpretation.
type Spec struct {
	Cron  string
	Every time.Duration
}

// CronSpec returns the robfig/cron registration string.
func (s Spec) CronSpec() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "@every " + s.Every.String()
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into a Spec.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Spec{Cron: expr}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, err := parseInterval(strings.TrimSpace(s[len(p):]))
			if err != nil {
				return Spec{}, err
			}
			return Spec{Every: d}, nil
		}
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Spec{Cron: s}, nil
	}

	d, err := parseInterval(s)
	if err != nil {
		return Spec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/10 * * * *', HH:MM like '02:30', or duration like '10m')",
			raw,
		)
	}
	return Spec{Every: d}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		var hh int
		for i := 0; i < len(m[1]); i++ {
			hh = hh*10 + int(m[1][i]-'0')
		}
		mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// Package scheduler decides which cycles are due and runs them with
// per-instrument serialization.
package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// JobKind is the type of a scheduled job.
type JobKind string

const (
	JobPreOpen    JobKind = "PRE_OPEN"
	JobIntraday   JobKind = "INTRADAY"
	JobSettlement JobKind = "SETTLEMENT"
)

var kindOrder = map[JobKind]int{JobPreOpen: 0, JobIntraday: 1, JobSettlement: 2}

// Job is one scheduled trigger.
type Job struct {
	Market string
	Kind   JobKind
	At     time.Time
}

// Clock is a local time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustClock is ParseClock for constants.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// MarketRules is the trading calendar of one market.
type MarketRules struct {
	Name        string
	Location    *time.Location
	Weekdays    []time.Weekday
	Holidays    []string // YYYY-MM-DD in Location
	PreOpen     Clock
	Open        Clock
	Close       Clock
	Interval    time.Duration
	Settlement  Clock
	Instruments []string
}

// Validate checks that the rules describe a usable session.
func (r MarketRules) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("market without name")
	case r.Location == nil:
		return fmt.Errorf("market %s: time zone is required", r.Name)
	case len(r.Weekdays) == 0:
		return fmt.Errorf("market %s: no trading weekdays", r.Name)
	case r.Interval < time.Minute:
		return fmt.Errorf("market %s: interval must be at least one minute", r.Name)
	case r.Open.minutes() >= r.Close.minutes():
		return fmt.Errorf("market %s: open %s must be before close %s", r.Name, r.Open, r.Close)
	case r.PreOpen.minutes() > r.Open.minutes():
		return fmt.Errorf("market %s: pre-open %s must not be after open %s", r.Name, r.PreOpen, r.Open)
	case r.Settlement.minutes() < r.Close.minutes():
		return fmt.Errorf("market %s: settlement %s must not be before close %s", r.Name, r.Settlement, r.Close)
	case r.Interval%time.Minute != 0:
		return fmt.Errorf("market %s: interval must be whole minutes", r.Name)
	case len(r.Instruments) == 0:
		return fmt.Errorf("market %s: no instruments", r.Name)
	}
	if _, err := r.triggers(); err != nil {
		return err
	}
	return nil
}

// IsTradingDay reports whether day (in the market's zone) has a session.
func (r MarketRules) IsTradingDay(day time.Time) bool {
	local := day.In(r.Location)
	date := local.Format("2006-01-02")
	for _, h := range r.Holidays {
		if h == date {
			return false
		}
	}
	for _, wd := range r.Weekdays {
		if wd == local.Weekday() {
			return true
		}
	}
	return false
}

// cronParser reads standard five-field specs; CRON_TZ pins each market's
// schedules to its own zone.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// trigger is one recurring job of a market. When slots is set only the
// listed minutes of the day fire.
type trigger struct {
	kind  JobKind
	sched cron.Schedule
	slots map[int]bool
}

// triggers expresses the calendar as cron schedules: one each for pre-open
// and settlement, and one for the intraday cycles between open and close.
func (r MarketRules) triggers() ([]trigger, error) {
	days := make([]string, 0, len(r.Weekdays))
	for _, wd := range r.Weekdays {
		days = append(days, strconv.Itoa(int(wd)))
	}
	prefix := "CRON_TZ=" + r.Location.String() + " "
	suffix := " * * " + strings.Join(days, ",")

	at := func(c Clock) (cron.Schedule, error) {
		return cronParser.Parse(fmt.Sprintf("%s%d %d%s", prefix, c.Minute, c.Hour, suffix))
	}
	preOpen, err := at(r.PreOpen)
	if err != nil {
		return nil, fmt.Errorf("market %s: pre-open schedule: %w", r.Name, err)
	}
	settle, err := at(r.Settlement)
	if err != nil {
		return nil, fmt.Errorf("market %s: settlement schedule: %w", r.Name, err)
	}

	step := int(r.Interval / time.Minute)
	slots := make(map[int]bool)
	var minutes, hours []int
	seenMin, seenHour := make(map[int]bool), make(map[int]bool)
	for m := r.Open.minutes(); m <= r.Close.minutes(); m += step {
		slots[m] = true
		if !seenMin[m%60] {
			seenMin[m%60] = true
			minutes = append(minutes, m%60)
		}
		if !seenHour[m/60] {
			seenHour[m/60] = true
			hours = append(hours, m/60)
		}
	}
	sort.Ints(minutes)
	intraday, err := cronParser.Parse(prefix + joinInts(minutes) + " " + joinInts(hours) + suffix)
	if err != nil {
		return nil, fmt.Errorf("market %s: intraday schedule: %w", r.Name, err)
	}

	return []trigger{
		{kind: JobPreOpen, sched: preOpen},
		{kind: JobIntraday, sched: intraday, slots: slots},
		{kind: JobSettlement, sched: settle},
	}, nil
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// DueBetween returns the jobs scheduled in (from, to], ordered by time,
// then market, then kind. It depends on its arguments only.
func DueBetween(from, to time.Time, rules []MarketRules) []Job {
	if !to.After(from) {
		return nil
	}
	var due []Job
	for _, r := range rules {
		if r.Location == nil {
			continue
		}
		triggers, err := r.triggers()
		if err != nil {
			continue // rejected by Validate
		}
		for _, tr := range triggers {
			for t := tr.sched.Next(from); !t.IsZero() && !t.After(to); t = tr.sched.Next(t) {
				local := t.In(r.Location)
				if tr.slots != nil && !tr.slots[local.Hour()*60+local.Minute()] {
					continue
				}
				if !r.IsTradingDay(local) {
					continue
				}
				due = append(due, Job{Market: r.Name, Kind: tr.kind, At: local})
			}
		}
	}
	sort.SliceStable(due, func(i, k int) bool {
		a, b := due[i], due[k]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	})
	return due
}

// DueAt returns the jobs scheduled within the minute containing now.
func DueAt(now time.Time, rules []MarketRules) []Job {
	start := now.Truncate(time.Minute)
	return DueBetween(start.Add(-time.Nanosecond), start.Add(time.Minute-time.Nanosecond), rules)
}

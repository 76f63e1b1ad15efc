package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"autoTrader/internal/scheduler"
)

// marketsFile is the YAML layout of the market calendar file.
type marketsFile struct {
	Markets []marketEntry `yaml:"markets"`
}

type marketEntry struct {
	Name        string   `yaml:"name"`
	Timezone    string   `yaml:"timezone"`
	Weekdays    []string `yaml:"weekdays"`
	Holidays    []string `yaml:"holidays"`
	PreOpen     string   `yaml:"pre_open"`
	Open        string   `yaml:"open"`
	Close       string   `yaml:"close"`
	Interval    string   `yaml:"interval"`
	Settlement  string   `yaml:"settlement"`
	Instruments []string `yaml:"instruments"`
}

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday, "MON": time.Monday, "TUE": time.Tuesday, "WED": time.Wednesday,
	"THU": time.Thursday, "FRI": time.Friday, "SAT": time.Saturday,
}

// LoadMarkets reads the market calendars from path. A missing file yields the
// built-in KR and US calendars trading krInstruments and usInstruments. In the
// file, a KR or US entry only needs the fields it changes; other markets must
// be complete.
func LoadMarkets(path string, krInstruments, usInstruments []string) ([]scheduler.MarketRules, error) {
	defaults, err := scheduler.DefaultMarkets(krInstruments, usInstruments)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaults, validateMarkets(defaults)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseMarkets(data, defaults)
}

// ParseMarkets decodes a calendar file on top of defaults, matched by name.
func ParseMarkets(data []byte, defaults []scheduler.MarketRules) ([]scheduler.MarketRules, error) {
	var file marketsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}
	if len(file.Markets) == 0 {
		return nil, fmt.Errorf("markets file lists no markets")
	}

	base := make(map[string]scheduler.MarketRules, len(defaults))
	for _, d := range defaults {
		base[d.Name] = d
	}

	out := make([]scheduler.MarketRules, 0, len(file.Markets))
	for i, e := range file.Markets {
		name := strings.ToUpper(strings.TrimSpace(e.Name))
		if name == "" {
			return nil, fmt.Errorf("market %d: name is required", i)
		}
		rules, err := e.apply(base[name])
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", name, err)
		}
		rules.Name = name
		out = append(out, rules)
	}
	return out, validateMarkets(out)
}

func (e marketEntry) apply(r scheduler.MarketRules) (scheduler.MarketRules, error) {
	var err error
	if e.Timezone != "" {
		if r.Location, err = time.LoadLocation(e.Timezone); err != nil {
			return r, fmt.Errorf("timezone %q: %w", e.Timezone, err)
		}
	}
	if len(e.Weekdays) > 0 {
		r.Weekdays = r.Weekdays[:0:0]
		for _, w := range e.Weekdays {
			day, ok := weekdayNames[strings.ToUpper(w)[:min(3, len(w))]]
			if !ok {
				return r, fmt.Errorf("unknown weekday %q", w)
			}
			r.Weekdays = append(r.Weekdays, day)
		}
	}
	if e.Holidays != nil {
		for _, h := range e.Holidays {
			if _, err := time.Parse("2006-01-02", h); err != nil {
				return r, fmt.Errorf("holiday %q: %w", h, err)
			}
		}
		r.Holidays = e.Holidays
	}
	clocks := []struct {
		raw string
		dst *scheduler.Clock
	}{
		{e.PreOpen, &r.PreOpen}, {e.Open, &r.Open}, {e.Close, &r.Close}, {e.Settlement, &r.Settlement},
	}
	for _, c := range clocks {
		if c.raw == "" {
			continue
		}
		if *c.dst, err = scheduler.ParseClock(c.raw); err != nil {
			return r, err
		}
	}
	if e.Interval != "" {
		if r.Interval, err = time.ParseDuration(e.Interval); err != nil {
			return r, fmt.Errorf("interval %q: %w", e.Interval, err)
		}
	}
	if len(e.Instruments) > 0 {
		r.Instruments = e.Instruments
	}
	return r, nil
}

func validateMarkets(markets []scheduler.MarketRules) error {
	seen := make(map[string]bool, len(markets))
	for _, m := range markets {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("market %s configured twice", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

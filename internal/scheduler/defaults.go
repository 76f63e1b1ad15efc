package scheduler

import (
	"fmt"
	"time"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// DefaultMarkets returns the domestic (KR) and overseas (US) calendars with
// the given instruments.
func DefaultMarkets(krInstruments, usInstruments []string) ([]MarketRules, error) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("load KR time zone: %w", err)
	}
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load US time zone: %w", err)
	}
	return []MarketRules{
		{
			Name:        "KR",
			Location:    seoul,
			Weekdays:    weekdays,
			PreOpen:     MustClock("08:50"),
			Open:        MustClock("09:00"),
			Close:       MustClock("15:30"),
			Interval:    15 * time.Minute,
			Settlement:  MustClock("15:40"),
			Instruments: krInstruments,
		},
		{
			Name:        "US",
			Location:    newYork,
			Weekdays:    weekdays,
			PreOpen:     MustClock("09:20"),
			Open:        MustClock("09:30"),
			Close:       MustClock("16:00"),
			Interval:    15 * time.Minute,
			Settlement:  MustClock("16:10"),
			Instruments: usInstruments,
		},
	}, nil
}

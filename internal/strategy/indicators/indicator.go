// Package indicators holds stateless technical indicators computed from an
// ordered price series, oldest value first.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a series is shorter than an indicator needs.
var ErrInsufficientData = errors.New("not enough data points")

func insufficient(name string, need, got int) error {
	return fmt.Errorf("%s: need %d, got %d: %w", name, need, got, ErrInsufficientData)
}

func validPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%s: period must be positive, got %d", name, period)
	}
	return nil
}

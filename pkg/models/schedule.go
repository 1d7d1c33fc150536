package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule expression cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

// ScheduleParser accepts standard 5-field cron expressions and descriptors such as @hourly.
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks that expression is a valid cron expression.
func ValidateSchedule(expression string) error {
	if expression == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}

	_, err := ScheduleParser.Parse(expression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return nil
}

// NextRun returns the next activation time of expression after from.
func NextRun(expression string, from time.Time) (time.Time, error) {
	schedule, err := ScheduleParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return schedule.Next(from), nil
}

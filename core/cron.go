package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StandardCronEvaluator evaluates five-field cron expressions (with the
// usual @hourly style descriptors) in UTC.
type StandardCronEvaluator struct{}

func (StandardCronEvaluator) Next(expression string, after time.Time) (time.Time, bool, error) {
	schedule, err := parseCronExpression(expression)
	if err != nil {
		return time.Time{}, false, err
	}
	next := schedule.Next(after.UTC())
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}

func parseCronExpression(expression string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCronExpression)
	}
	schedule, err := cron.ParseStandard(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, trimmed, err)
	}
	return schedule, nil
}

// ValidateCronExpression rejects malformed expressions at event intake so a
// bad schedule never reaches the worker.
func ValidateCronExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := parseCronExpression(expression)
	return err
}

var _ CronEvaluator = StandardCronEvaluator{}

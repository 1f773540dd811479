package service

import (
	"fmt"

	"apripista/inspira-api/internal/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartTokenSweep schedules the periodic deletion of expired verification
// and reset tokens. Lookups already treat expired rows as invalid, the sweep
// only reclaims them.
func StartTokenSweep(schedule string, tokens *store.Tokens) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		n, err := tokens.Sweep(tokens.Clock.Now())
		if err != nil {
			zap.L().Error("Failed to sweep expired tokens", zap.Error(err))
			return
		}

		if n > 0 {
			zap.L().Debug("Swept expired tokens", zap.Int64("deleted", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q, %w", schedule, err)
	}

	c.Start()

	zap.L().Debug("Token sweep attached", zap.String("schedule", schedule))

	return c, nil
}

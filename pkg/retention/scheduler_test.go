package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/retention"
)

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		days        int
		wantRunning bool
		wantError   bool
	}{
		{name: "daily", schedule: "0 3 * * *", days: 30, wantRunning: true},
		{name: "every six hours", schedule: "0 */6 * * *", days: 30, wantRunning: true},
		{name: "empty schedule", schedule: "", days: 30},
		{name: "retention disabled", schedule: "0 3 * * *", days: 0},
		{name: "invalid", schedule: "not a cron", days: 30, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openStore(t)
			p := retention.NewPruner(st, config.RetentionConfig{Days: tt.days, Schedule: tt.schedule}, nil, quietLogger())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := p.Start(ctx)
			if tt.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			next := p.NextPruning()
			if tt.wantRunning {
				require.NotNil(t, next)
				assert.True(t, next.After(testNow))
			} else {
				assert.Nil(t, next)
			}

			p.Stop()
			assert.Nil(t, p.NextPruning())
		})
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	st := openStore(t)
	p := retention.NewPruner(st, config.RetentionConfig{Days: 30, Schedule: "@every 1h"}, nil, quietLogger())
	s := retention.NewScheduler(p)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	cancel()
	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)

	s.Stop()
}

package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mcourselabs/mcourse-backend/pkg/logger"
	"github.com/mcourselabs/mcourse-backend/pkg/metrics"
)

const defaultExpiryWindow = 15 * time.Minute

// PaymentTTLJobParams configure the pending payment sweeper.
type PaymentTTLJobParams struct {
	Logger  *logger.Logger
	Sweeper pendingPaymentSweeper
	Metrics *metrics.CronJobMetrics
	Window  time.Duration
}

type pendingPaymentSweeper interface {
	ExpirePendingBefore(ctx context.Context, createdBefore time.Time) (int64, error)
}

// NewPaymentTTLJob builds the cron job that forecloses overdue pending
// payments. The expiry is one conditional UPDATE, so it never races the
// reconciliation engine into a double transition.
func NewPaymentTTLJob(params PaymentTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("payment sweeper required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultExpiryWindow
	}
	return &paymentTTLJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		metrics: params.Metrics,
		window:  window,
		now:     time.Now,
	}, nil
}

type paymentTTLJob struct {
	logg    *logger.Logger
	sweeper pendingPaymentSweeper
	metrics *metrics.CronJobMetrics
	window  time.Duration
	now     func() time.Time
}

func (j *paymentTTLJob) Name() string { return "payment-ttl" }

func (j *paymentTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	expired, err := j.sweeper.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddExpiredPayments(expired)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_expired": expired,
	})
	j.logg.Info(logCtx, "payment expiry sweep complete")
	return nil
}

// Package reconciler runs the two background maintenance loops: the idle
// session sweeper and the daily quota resetter.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/lewisedginton/line_assistant_bridge/internal/quota"
	"github.com/lewisedginton/line_assistant_bridge/internal/session"
	"github.com/lewisedginton/line_assistant_bridge/internal/store"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
	"github.com/lewisedginton/line_assistant_bridge/pkg/metrics"
)

const (
	// DefaultSweepInterval is how often the sweeper scans for idle sessions.
	DefaultSweepInterval = 5 * time.Second

	// DefaultResetCheckInterval is how often the resetter checks whether the
	// daily reset instant has passed.
	DefaultResetCheckInterval = 30 * time.Second

	// DefaultIdleNotification is pushed to a user whose AI session expired.
	DefaultIdleNotification = "Dear customer, hello! As you have been idle for more than 5 minutes, the AI customer service is now signing off. If you still need the services of our AI customer service, please use 'hi ai' to wake me up. Looking forward to continuing to serve you!"
)

// Notifier delivers out-of-band messages to a user, outside the webhook
// reply flow. Implemented by the messaging connector.
type Notifier interface {
	PushText(ctx context.Context, userID, text string) error
}

// Config holds reconciler settings.
type Config struct {
	SweepInterval      time.Duration
	ResetCheckInterval time.Duration

	// IdleNotification overrides the default sign-off message.
	IdleNotification string

	// Location is the timezone whose midnight triggers the quota reset.
	// Nil uses time.Local.
	Location *time.Location

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Reconciler owns the sweeper and resetter loops. Both check cancellation at
// iteration boundaries and log per-iteration failures without terminating.
type Reconciler struct {
	store    store.Store
	sessions *session.Machine
	quota    *quota.Manager
	notifier Notifier
	metrics  *metrics.Metrics
	log      logger.Logger

	sweepInterval      time.Duration
	resetCheckInterval time.Duration
	idleNotification   string
	loc                *time.Location
	now                func() time.Time

	// lastResetDay guards ResetAll against firing more than once per
	// calendar day. Initialized to the boot day so a restart does not
	// hand out a fresh allowance.
	lastResetDay string
}

// New creates a reconciler over the given components.
func New(s store.Store, sessions *session.Machine, q *quota.Manager, notifier Notifier, m *metrics.Metrics, cfg Config, log logger.Logger) *Reconciler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.ResetCheckInterval <= 0 {
		cfg.ResetCheckInterval = DefaultResetCheckInterval
	}
	if cfg.IdleNotification == "" {
		cfg.IdleNotification = DefaultIdleNotification
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	r := &Reconciler{
		store:              s,
		sessions:           sessions,
		quota:              q,
		notifier:           notifier,
		metrics:            m,
		log:                log,
		sweepInterval:      cfg.SweepInterval,
		resetCheckInterval: cfg.ResetCheckInterval,
		idleNotification:   cfg.IdleNotification,
		loc:                cfg.Location,
		now:                now,
	}
	r.lastResetDay = r.dayOf(r.now())
	return r
}

// Start launches both loops. Each exits when ctx is canceled and signals the
// wait group, which the host joins before releasing the store connection.
func (r *Reconciler) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.runSweeper(ctx)
	}()
	go func() {
		defer wg.Done()
		r.runResetter(ctx)
	}()
}

func (r *Reconciler) runSweeper(ctx context.Context) {
	r.log.Info("Starting idle session sweeper",
		logger.DurationField("interval", r.sweepInterval),
		logger.DurationField("idle_timeout", r.sessions.IdleTimeout()))

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.metrics.IncrementJobCounter(metrics.JobMetricTotal)
			if err := r.SweepOnce(ctx); err != nil {
				r.metrics.IncrementJobCounter(metrics.JobMetricTotalFailed)
				r.log.Error("Idle sweep failed", logger.ErrorField(err))
			} else {
				r.metrics.IncrementJobCounter(metrics.JobMetricTotalSuccess)
			}
		case <-ctx.Done():
			r.log.Info("Idle session sweeper stopped")
			return
		}
	}
}

func (r *Reconciler) runResetter(ctx context.Context) {
	r.log.Info("Starting daily quota resetter",
		logger.DurationField("check_interval", r.resetCheckInterval))

	ticker := time.NewTicker(r.resetCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.ResetIfDue(ctx); err != nil {
				r.metrics.IncrementJobCounter(metrics.JobMetricTotalFailed)
				r.log.Error("Quota reset failed", logger.ErrorField(err))
			}
		case <-ctx.Done():
			r.log.Info("Daily quota resetter stopped")
			return
		}
	}
}

// SweepOnce scans the AI-active records and expires the ones idle past the
// timeout. Each expiry triggers one push notification; the notification is
// sent after the transition, with no record lock held, so a delivery failure
// never leaves the session half-closed.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	records, err := r.store.ScanActive(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		expired, err := r.sessions.ExpireIfIdle(ctx, rec.UserID)
		if err != nil {
			r.log.Error("Failed to expire session",
				logger.UserIDField(rec.UserID), logger.ErrorField(err))
			continue
		}
		if !expired {
			continue
		}

		if err := r.notifier.PushText(ctx, rec.UserID, r.idleNotification); err != nil {
			// No retry; the session is already closed.
			r.log.Error("Failed to deliver idle notification",
				logger.UserIDField(rec.UserID), logger.ErrorField(err))
		}
	}
	return nil
}

// ResetIfDue invokes the quota reset at most once per calendar day, on the
// first check after local midnight. A failed reset is retried on the next
// check; repeating the reset within the same day is harmless since it writes
// the same ceiling.
func (r *Reconciler) ResetIfDue(ctx context.Context) error {
	today := r.dayOf(r.now())
	if today == r.lastResetDay {
		return nil
	}

	r.metrics.IncrementJobCounter(metrics.JobMetricTotal)
	if err := r.quota.ResetAll(ctx); err != nil {
		return err
	}
	r.metrics.IncrementJobCounter(metrics.JobMetricTotalSuccess)
	r.lastResetDay = today
	r.log.Info("Daily quota reset complete", logger.StringField("day", today))
	return nil
}

func (r *Reconciler) dayOf(t time.Time) string {
	return t.In(r.loc).Format("2006-01-02")
}

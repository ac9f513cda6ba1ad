package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/ratelimit"
	"github.com/crmkit/pacer/internal/schedule"
	"github.com/crmkit/pacer/internal/store"
)

// Sender delivers one message through the actual channel transport.
// The default implementation only logs; production deployments plug in
// the real provider client.
type Sender interface {
	Send(ctx context.Context, job *store.Job, recipient store.Recipient, accountID string) error
}

// LogSender is a Sender that records the send in the log and delivers
// nothing. Useful for dry runs and development.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, job *store.Job, recipient store.Recipient, accountID string) error {
	s.Logger.Info("dry-run send",
		"job_id", job.ID,
		"channel", job.Channel,
		"phone", recipient.Phone,
		"account_id", accountID,
	)
	return nil
}

// Config contains dispatcher configuration
type Config struct {
	ProcessInterval time.Duration
	// Messages one account may send back to back before it enters its
	// cooldown period
	BurstPerAccount int
	// Abort a job once this many consecutive sends fail
	MaxConsecutiveErrors int
}

// Dispatcher paces campaign jobs: it claims pending jobs from the
// store and walks their recipient lists at the planned delay, honoring
// anti-ban settings, account rotation with cooldowns, business-hours
// and weekend gates, and the hard windowed rate limiter.
type Dispatcher struct {
	store           store.Store
	sender          Sender
	limiter         *ratelimit.Limiter
	window          schedule.Window
	processInterval time.Duration
	burstPerAccount int
	maxErrors       int
	logger          *slog.Logger

	// now is replaceable in tests
	now func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a dispatcher. The limiter may be nil, in which case only
// the plan's pacing applies.
func New(s store.Store, sender Sender, limiter *ratelimit.Limiter, window schedule.Window, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 5 * time.Second
	}
	if cfg.BurstPerAccount <= 0 {
		cfg.BurstPerAccount = 20
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 10
	}

	return &Dispatcher{
		store:           s,
		sender:          sender,
		limiter:         limiter,
		window:          window,
		processInterval: cfg.ProcessInterval,
		burstPerAccount: cfg.BurstPerAccount,
		maxErrors:       cfg.MaxConsecutiveErrors,
		logger:          logger,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
}

// Start starts the dispatch loop. Jobs run one at a time: interleaving
// campaigns on the same accounts defeats the pacing they were planned
// with.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting dispatcher", "process_interval", d.processInterval)

	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop stops the dispatcher gracefully
func (d *Dispatcher) Stop() {
	d.logger.Info("stopping dispatcher")
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			job, err := d.store.NextPending(ctx)
			if err != nil {
				d.logger.Error("failed to claim job", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			d.runJob(ctx, job)
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job *store.Job) {
	logger := d.logger.With("job_id", job.ID, "channel", job.Channel)
	logger.Info("job started", "recipients", len(job.Recipients), "rate", job.Plan.RecommendedMessagesPerMinute)

	// Staleness check: the plan is only valid for the inputs it was
	// computed from. Material drift means the caller must replan.
	current := planner.Request{
		ChannelType:    job.Channel,
		RecipientCount: len(job.Recipients),
		AccountCount:   len(job.AccountIDs),
	}
	if job.Fingerprint != "" && job.Fingerprint != current.Fingerprint() {
		job.Status = store.StatusFailed
		job.LastError = fmt.Sprintf("plan is stale: computed for %q, inputs are now %q", job.Fingerprint, current.Fingerprint())
		if err := d.store.Update(ctx, job); err != nil {
			logger.Error("failed to mark job stale", "error", err)
		}
		logger.Warn("job rejected", "error", job.LastError)
		return
	}

	accounts := newRotation(job.AccountIDs, job.AntiBan, d.burstPerAccount)
	consecutiveErrors := 0

	for _, recipient := range job.Remaining() {
		// Observe pause/cancel/delete requested through the API
		fresh, err := d.store.Get(ctx, job.ID)
		if err == nil {
			if fresh == nil {
				logger.Info("job deleted mid-run")
				return
			}
			if fresh.Status == store.StatusPaused || fresh.Status == store.StatusCancelled {
				logger.Info("job interrupted", "status", fresh.Status)
				return
			}
		}

		if !d.waitForWindow(ctx, job.AntiBan) {
			return
		}

		accountID, wait := accounts.next(d.now())
		for wait > 0 {
			if !d.pause(ctx, wait) {
				return
			}
			accountID, wait = accounts.next(d.now())
		}

		// Hard ceiling check: the planner is advisory, the limiter is not.
		// A denial only pauses; the message goes out when Allow admits it,
		// which is also what counts it against the windows. One window
		// rolling over does not clear a denial on another.
		if d.limiter != nil {
			for {
				result, err := d.limiter.Allow(ctx, &ratelimit.Request{Channel: job.Channel, AccountID: accountID})
				if err != nil {
					logger.Error("rate limit check failed", "error", err)
					break
				}
				if result.Allowed {
					break
				}
				logger.Warn("send blocked by rate limit",
					"denied_by", result.DeniedBy,
					"retry_after", result.RetryAfter,
				)
				wait := result.RetryAfter
				if wait <= 0 {
					wait = time.Second
				}
				if !d.pause(ctx, wait) {
					return
				}
			}
		}

		if err := d.sender.Send(ctx, job, recipient, accountID); err != nil {
			job.FailedCount++
			job.LastError = err.Error()
			consecutiveErrors++
			logger.Warn("send failed", "phone", recipient.Phone, "error", err)

			if consecutiveErrors >= d.maxErrors {
				job.Status = store.StatusFailed
				if uerr := d.store.Update(ctx, job); uerr != nil {
					logger.Error("failed to update job", "error", uerr)
				}
				logger.Error("job aborted after repeated failures", "failed", job.FailedCount)
				return
			}
		} else {
			job.SentCount++
			consecutiveErrors = 0
			accounts.record(accountID, d.now())
		}

		if err := d.store.Update(ctx, job); err != nil {
			logger.Error("failed to update job progress", "error", err)
		}

		if len(job.Remaining()) == 0 {
			break
		}

		if !d.pause(ctx, sendDelay(job.Plan, job.AntiBan)) {
			return
		}
	}

	now := d.now()
	job.Status = store.StatusCompleted
	job.CompletedAt = &now
	if err := d.store.Update(ctx, job); err != nil {
		logger.Error("failed to complete job", "error", err)
		return
	}
	logger.Info("job completed", "sent", job.SentCount, "failed", job.FailedCount)
}

// waitForWindow blocks until the business-hours/weekend gates open.
// Returns false if dispatch is shutting down.
func (d *Dispatcher) waitForWindow(ctx context.Context, antiBan schedule.AntiBanSettings) bool {
	if !antiBan.Enabled {
		return true
	}

	for {
		now := d.now()
		wd := now.Weekday()
		weekend := antiBan.RespectWeekends && (wd == time.Saturday || wd == time.Sunday)
		outside := antiBan.BusinessHoursOnly && (now.Hour() < d.window.StartHour || now.Hour() >= d.window.EndHour)

		if !weekend && !outside {
			return true
		}
		if !d.pause(ctx, time.Minute) {
			return false
		}
	}
}

// pause sleeps for the duration, aborting early on shutdown.
func (d *Dispatcher) pause(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-d.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// sendDelay computes the pause before the next message: the planned
// delay, lifted to the user minimum when anti-ban settings demand it,
// plus random jitter up to the user maximum so the cadence does not
// look mechanical.
func sendDelay(calc planner.Calculation, antiBan schedule.AntiBanSettings) time.Duration {
	delayMs := calc.RecommendedDelayMs
	if delayMs < 1 {
		delayMs = 1
	}

	if antiBan.Enabled {
		if min := antiBan.MinDelaySeconds * 1000; min > delayMs {
			delayMs = min
		}
		if max := antiBan.MaxDelaySeconds * 1000; max > delayMs {
			delayMs += rand.Intn(max - delayMs + 1)
		}
	}

	return time.Duration(delayMs) * time.Millisecond
}

// rotation tracks which sending account takes the next message and
// when accounts rest.
type rotation struct {
	accounts  []string
	rotate    bool
	burst     int
	cooldown  time.Duration
	sent      map[string]int
	restUntil map[string]time.Time
	idx       int
}

func newRotation(accounts []string, antiBan schedule.AntiBanSettings, burst int) *rotation {
	if len(accounts) == 0 {
		accounts = []string{"default"}
	}
	cooldown := time.Duration(antiBan.CooldownPeriodMinutes) * time.Minute
	return &rotation{
		accounts:  accounts,
		rotate:    antiBan.Enabled && antiBan.AccountRotation && len(accounts) > 1,
		burst:     burst,
		cooldown:  cooldown,
		sent:      make(map[string]int),
		restUntil: make(map[string]time.Time),
	}
}

// next picks the account for the next send. When every account is
// resting it returns the wait until the earliest one is available.
func (r *rotation) next(now time.Time) (string, time.Duration) {
	var earliest time.Time

	for i := 0; i < len(r.accounts); i++ {
		id := r.accounts[r.idx%len(r.accounts)]
		if r.rotate {
			r.idx++
		}

		until, resting := r.restUntil[id]
		if !resting || !until.After(now) {
			return id, 0
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
		if !r.rotate {
			// Single fixed account: wait out its cooldown
			break
		}
	}

	return "", earliest.Sub(now)
}

// record counts a successful send and starts the cooldown once the
// account exhausts its burst.
func (r *rotation) record(id string, now time.Time) {
	if r.cooldown <= 0 {
		return
	}
	r.sent[id]++
	if r.sent[id] >= r.burst {
		r.sent[id] = 0
		r.restUntil[id] = now.Add(r.cooldown)
	}
}

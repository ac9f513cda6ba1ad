package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/ratelimit"
	"github.com/crmkit/pacer/internal/schedule"
	"github.com/crmkit/pacer/internal/store"
)

// memStore is an in-memory Store for dispatcher tests
type memStore struct {
	mu   sync.Mutex
	jobs map[string]store.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]store.Job)}
}

func (m *memStore) Enqueue(ctx context.Context, job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) NextPending(ctx context.Context) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *store.Job
	for id := range m.jobs {
		job := m.jobs[id]
		if job.Status != store.StatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			j := job
			oldest = &j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now()
	oldest.Status = store.StatusRunning
	oldest.StartedAt = &now
	m.jobs[oldest.ID] = *oldest
	claimed := *oldest
	return &claimed, nil
}

func (m *memStore) Update(ctx context.Context, job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := job
	return &copied, nil
}

func (m *memStore) List(ctx context.Context, filter store.ListFilter) ([]*store.Job, error) {
	return nil, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) Stats(ctx context.Context) (*store.JobStats, error) {
	return &store.JobStats{}, nil
}

func (m *memStore) Close() error { return nil }

// recordingSender captures sends; fail makes every call error
type recordingSender struct {
	mu       sync.Mutex
	accounts []string
	phones   []string
	fail     bool
}

func (s *recordingSender) Send(ctx context.Context, job *store.Job, recipient store.Recipient, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("provider rejected message")
	}
	s.accounts = append(s.accounts, accountID)
	s.phones = append(s.phones, recipient.Phone)
	return nil
}

func (s *recordingSender) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...), append([]string(nil), s.phones...)
}

func testJob(recipients int, accounts []string) *store.Job {
	recs := make([]store.Recipient, 0, recipients)
	for i := 0; i < recipients; i++ {
		recs = append(recs, store.Recipient{
			ContactID: i + 1,
			Phone:     "+55119999900" + string(rune('0'+i)),
		})
	}
	req := planner.Request{
		ChannelType:    channel.TypeWhatsApp,
		RecipientCount: recipients,
		AccountCount:   len(accounts),
	}
	return &store.Job{
		ID:         "job-1",
		Name:       "launch wave",
		Channel:    channel.TypeWhatsApp,
		Recipients: recs,
		AccountIDs: accounts,
		Plan: planner.Calculation{
			RecommendedMessagesPerMinute: 60,
			RecommendedDelayMs:           1,
		},
		Fingerprint: req.Fingerprint(),
		Status:      store.StatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func runDispatcher(t *testing.T, ms *memStore, sender Sender, cfg Config) func() {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg.ProcessInterval = 5 * time.Millisecond
	d := New(ms, sender, nil, schedule.DefaultWindow(), cfg, logger)
	d.Start(context.Background())
	return d.Stop
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// waitForStatus polls until the job reaches the status or the deadline expires
func waitForStatus(t *testing.T, ms *memStore, id string, status store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := ms.Get(context.Background(), id)
		if job != nil && job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := ms.Get(context.Background(), id)
	t.Fatalf("job never reached status %q, last seen: %+v", status, job)
	return nil
}

func TestDispatcherCompletesJob(t *testing.T) {
	ms := newMemStore()
	job := testJob(3, []string{"acc-1"})
	if err := ms.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	stop := runDispatcher(t, ms, sender, Config{})
	defer stop()

	done := waitForStatus(t, ms, job.ID, store.StatusCompleted)

	if done.SentCount != 3 {
		t.Errorf("SentCount = %d, want 3", done.SentCount)
	}
	if done.FailedCount != 0 {
		t.Errorf("FailedCount = %d, want 0", done.FailedCount)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	_, phones := sender.snapshot()
	if len(phones) != 3 {
		t.Fatalf("sender saw %d sends, want 3", len(phones))
	}
}

func TestDispatcherMarksStaleJobFailed(t *testing.T) {
	ms := newMemStore()
	job := testJob(3, []string{"acc-1"})
	// Plan computed for different inputs than the job carries
	job.Fingerprint = "telegram|500|3"
	if err := ms.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	stop := runDispatcher(t, ms, sender, Config{})
	defer stop()

	failed := waitForStatus(t, ms, job.ID, store.StatusFailed)

	if failed.LastError == "" {
		t.Error("expected LastError to explain the rejection")
	}
	if failed.SentCount != 0 {
		t.Errorf("SentCount = %d, want 0 for a stale plan", failed.SentCount)
	}
	if _, phones := sender.snapshot(); len(phones) != 0 {
		t.Errorf("sender saw %d sends, want 0", len(phones))
	}
}

func TestDispatcherRotatesAccounts(t *testing.T) {
	ms := newMemStore()
	job := testJob(4, []string{"acc-1", "acc-2"})
	job.AntiBan = schedule.AntiBanSettings{
		Enabled:         true,
		AccountRotation: true,
	}
	if err := ms.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	stop := runDispatcher(t, ms, sender, Config{})
	defer stop()

	waitForStatus(t, ms, job.ID, store.StatusCompleted)

	accounts, _ := sender.snapshot()
	want := []string{"acc-1", "acc-2", "acc-1", "acc-2"}
	if len(accounts) != len(want) {
		t.Fatalf("sender saw %d sends, want %d", len(accounts), len(want))
	}
	for i, acc := range want {
		if accounts[i] != acc {
			t.Errorf("send %d used account %q, want %q", i, accounts[i], acc)
		}
	}
}

func TestDispatcherAbortsAfterRepeatedFailures(t *testing.T) {
	ms := newMemStore()
	job := testJob(5, []string{"acc-1"})
	if err := ms.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{fail: true}
	stop := runDispatcher(t, ms, sender, Config{MaxConsecutiveErrors: 2})
	defer stop()

	failed := waitForStatus(t, ms, job.ID, store.StatusFailed)

	if failed.FailedCount != 2 {
		t.Errorf("FailedCount = %d, want 2", failed.FailedCount)
	}
	if failed.LastError == "" {
		t.Error("expected LastError from the provider")
	}
}

func TestDispatcherRechecksLimiterAfterDenial(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "jobs.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	// Both whatsapp windows are already spent. The hourly one rolls over
	// shortly; the daily one stays exhausted for the rest of the test.
	now := time.Now()
	counter := ratelimit.Counter{
		HourlyCount: 1,
		DailyCount:  1,
		HourStart:   now.Add(-time.Hour + 150*time.Millisecond),
		DayStart:    now,
	}
	data, err := json.Marshal(counter)
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("rate_limits"))
		if err != nil {
			return err
		}
		return b.Put([]byte("channel:whatsapp"), data)
	})
	if err != nil {
		t.Fatalf("failed to seed counters: %v", err)
	}

	registry := channel.NewRegistry("test", map[string]channel.Override{
		"whatsapp": {MaxMessagesPerHour: 1, MaxMessagesPerDay: 1},
	})
	limiter, err := ratelimit.NewLimiter(db, registry, nil)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	defer limiter.Stop()

	ms := newMemStore()
	job := testJob(1, []string{"acc-1"})
	if err := ms.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	d := New(ms, sender, limiter, schedule.DefaultWindow(), Config{ProcessInterval: 5 * time.Millisecond}, logger)
	d.Start(context.Background())

	// Long enough for the hourly window to roll and the dispatcher to
	// retry. The daily ceiling must still hold the message back.
	time.Sleep(700 * time.Millisecond)
	d.Stop()

	if _, phones := sender.snapshot(); len(phones) != 0 {
		t.Fatalf("sender saw %d sends, want 0 while the daily ceiling is exhausted", len(phones))
	}
	got, _ := ms.Get(context.Background(), job.ID)
	if got.SentCount != 0 {
		t.Errorf("SentCount = %d, want 0", got.SentCount)
	}
	if got.Status == store.StatusCompleted {
		t.Error("job completed despite an exhausted daily ceiling")
	}
}

func TestSendDelay(t *testing.T) {
	calc := planner.Calculation{RecommendedDelayMs: 2000}

	t.Run("anti-ban disabled uses plan delay", func(t *testing.T) {
		got := sendDelay(calc, schedule.AntiBanSettings{})
		if got != 2*time.Second {
			t.Errorf("sendDelay = %v, want 2s", got)
		}
	})

	t.Run("user minimum lifts the delay", func(t *testing.T) {
		ab := schedule.AntiBanSettings{Enabled: true, MinDelaySeconds: 5, MaxDelaySeconds: 8}
		for i := 0; i < 50; i++ {
			got := sendDelay(calc, ab)
			if got < 5*time.Second || got > 8*time.Second {
				t.Fatalf("sendDelay = %v, want within [5s, 8s]", got)
			}
		}
	})

	t.Run("plan delay above user range is kept", func(t *testing.T) {
		ab := schedule.AntiBanSettings{Enabled: true, MinDelaySeconds: 1, MaxDelaySeconds: 1}
		got := sendDelay(calc, ab)
		if got != 2*time.Second {
			t.Errorf("sendDelay = %v, want 2s", got)
		}
	})
}

func TestRotationCooldown(t *testing.T) {
	ab := schedule.AntiBanSettings{Enabled: true, CooldownPeriodMinutes: 1}
	r := newRotation([]string{"acc-1"}, ab, 2)
	now := time.Now()

	id, wait := r.next(now)
	if id != "acc-1" || wait != 0 {
		t.Fatalf("next() = %q, %v, want acc-1 with no wait", id, wait)
	}

	r.record("acc-1", now)
	if _, wait := r.next(now); wait != 0 {
		t.Fatalf("account resting after 1 send, burst is 2")
	}
	r.record("acc-1", now)

	_, wait = r.next(now)
	if wait <= 0 {
		t.Fatal("expected a cooldown wait after the burst")
	}
	if wait > time.Minute {
		t.Errorf("wait = %v, want at most the cooldown period", wait)
	}

	// Cooldown expired
	id, wait = r.next(now.Add(2 * time.Minute))
	if id != "acc-1" || wait != 0 {
		t.Errorf("next() after cooldown = %q, %v, want acc-1 with no wait", id, wait)
	}
}

func TestRotationEmptyAccounts(t *testing.T) {
	r := newRotation(nil, schedule.AntiBanSettings{}, 5)
	id, wait := r.next(time.Now())
	if id != "default" || wait != 0 {
		t.Errorf("next() = %q, %v, want the default account", id, wait)
	}
}

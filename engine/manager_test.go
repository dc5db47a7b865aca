package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticket-reservation-bot/queues"
	"ticket-reservation-bot/ticketapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	variants    []ticketapi.Variant
	cart        ticketapi.Cart
	createErr   error
	creates     atomic.Int32
	fetches     atomic.Int32
	cartRelease chan struct{}
}

func (s *stubAPI) FetchEvent(ctx context.Context, eventID string, timeout time.Duration) (*ticketapi.EventSnapshot, error) {
	s.fetches.Add(1)
	return &ticketapi.EventSnapshot{Product: ticketapi.Product{ID: eventID}, Variants: s.variants}, nil
}

func (s *stubAPI) FetchCart(ctx context.Context, bearerToken string, timeout time.Duration) (ticketapi.Cart, error) {
	if s.cartRelease != nil {
		<-s.cartRelease
	}
	if s.cart == nil {
		return ticketapi.Cart{}, nil
	}
	return s.cart, nil
}

func (s *stubAPI) CreateReservation(ctx context.Context, bearerToken, inventoryID string, quantity int, timeout time.Duration) error {
	s.creates.Add(1)
	return s.createErr
}

type capturePublisher struct {
	mu      sync.Mutex
	notices []*queues.SessionNotice
}

func (c *capturePublisher) PublishNotice(ctx context.Context, n *queues.SessionNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	return nil
}

func (c *capturePublisher) all() []*queues.SessionNotice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*queues.SessionNotice(nil), c.notices...)
}

func oneVariant(avail int) []ticketapi.Variant {
	return []ticketapi.Variant{{
		InventoryID:                             "inv-1",
		Name:                                    "General Admission",
		Availability:                            avail,
		ProductVariantMaximumReservableQuantity: 4,
		IsProductVariantActive:                  true,
	}}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.EventID = "evt"
	s.ThreadCount = 1
	s.PollIntervalMs = 10
	s.RequestTimeoutMs = 100
	return s
}

func newTestManager(t *testing.T, api *stubAPI, s Settings, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(api, s, opts...)
	require.NoError(t, err)
	return m
}

func TestNewManager_RejectsTooManyPriorities(t *testing.T) {
	s := testSettings()
	s.Priorities = []string{"1", "2", "3", "4", "5", "6"}

	m, err := NewManager(&stubAPI{}, s)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrConfiguration)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "priorities", cfgErr.Field)

	s.Priorities = s.Priorities[:5]
	m, err = NewManager(&stubAPI{}, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, m.Settings().Priorities)
}

func TestManager_SingleWorkerReservesAndHolds(t *testing.T) {
	api := &stubAPI{variants: oneVariant(1)}
	pub := &capturePublisher{}
	s := testSettings()
	s.AutoStop = true
	m := newTestManager(t, api, s, WithStagger(0), WithPublisher(pub))

	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { return m.State() == Hold }, 2*time.Second, 5*time.Millisecond)

	got := m.Stats()
	assert.Equal(t, Counters{RequestsStarted: 1, BuyAttempts: 1, RequestSuccesses: 1, BuySucceeded: 1}, got)
	assert.Equal(t, int32(1), api.creates.Load())

	require.Eventually(t, func() bool { return len(pub.all()) == 2 }, time.Second, 5*time.Millisecond)
	byType := map[queues.NoticeType]*queues.SessionNotice{}
	for _, n := range pub.all() {
		byType[n.Type] = n
		assert.Equal(t, m.SessionID(), n.SessionID)
		assert.Equal(t, "evt", n.EventID)
	}
	require.Contains(t, byType, queues.NoticeReservation)
	require.Contains(t, byType, queues.NoticeSessionSummary)
	assert.Equal(t, "General Admission", *byType[queues.NoticeReservation].VariantName)
	assert.Equal(t, queues.StatusHold, byType[queues.NoticeSessionSummary].Status)
	assert.Equal(t, uint64(1), byType[queues.NoticeSessionSummary].Stats["buy_succeeded"])

	m.Stop()
	assert.Equal(t, Stopped, m.State())
}

func TestManager_StartValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Settings)
		token     string
		wantField string
	}{
		{name: "blank event", mutate: func(s *Settings) { s.EventID = "  " }, token: "tok", wantField: "eventId"},
		{name: "zero threads", mutate: func(s *Settings) { s.ThreadCount = 0 }, token: "tok", wantField: "threadCount"},
		{name: "negative interval", mutate: func(s *Settings) { s.PollIntervalMs = -5 }, token: "tok", wantField: "pollIntervalMs"},
		{name: "zero timeout", mutate: func(s *Settings) { s.RequestTimeoutMs = 0 }, token: "tok", wantField: "requestTimeoutMs"},
		{name: "custom quantity zero", mutate: func(s *Settings) { s.UseCustomQuantity = true; s.CustomQuantity = 0 }, token: "tok", wantField: "customQuantity"},
		{name: "unknown filter", mutate: func(s *Settings) { s.Filter = "dates" }, token: "tok", wantField: "filter"},
		{name: "empty priority", mutate: func(s *Settings) { s.Priorities = []string{"vip", ""} }, token: "tok", wantField: "priorities"},
		{name: "blank token", mutate: func(s *Settings) {}, token: " ", wantField: "bearerToken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			m := newTestManager(t, &stubAPI{}, s, WithStagger(0))

			err := m.Start(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), "error %v should match ErrConfiguration", err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.Equal(t, Stopped, m.State())
		})
	}
}

func TestManager_CustomQuantityDisabledIgnoresValue(t *testing.T) {
	s := testSettings()
	s.UseCustomQuantity = false
	s.CustomQuantity = 0
	assert.NoError(t, s.Validate(nil))
}

func TestManager_LifecycleNoOps(t *testing.T) {
	api := &stubAPI{variants: oneVariant(0)}
	s := testSettings()
	s.ThreadCount = 2
	m := newTestManager(t, api, s, WithStagger(time.Millisecond))

	m.Stop()
	assert.Equal(t, Stopped, m.State())

	require.NoError(t, m.Start(context.Background(), "tok"))
	assert.ErrorIs(t, m.Start(context.Background(), "tok"), ErrNotStopped)

	require.Eventually(t, func() bool { return m.State() == Running }, 2*time.Second, 5*time.Millisecond)
	spawned, target := m.Progress()
	assert.Equal(t, 2, spawned)
	assert.Equal(t, 2, target)

	assert.ErrorIs(t, m.Start(context.Background(), "tok"), ErrNotStopped)
	assert.ErrorIs(t, m.Configure(testSettings()), ErrNotStopped)

	m.Stop()
	assert.Equal(t, Stopped, m.State())
	m.Stop()
	assert.Equal(t, Stopped, m.State())
}

func TestManager_StatsFrozenAfterStop(t *testing.T) {
	api := &stubAPI{variants: oneVariant(3), cartRelease: make(chan struct{})}
	m := newTestManager(t, api, testSettings(), WithStagger(0))

	require.NoError(t, m.Start(context.Background(), "tok"))
	// The worker is now parked inside FetchCart.
	require.Eventually(t, func() bool { return m.Stats().BuyAttempts == 1 }, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	before := m.Stats()
	close(api.cartRelease)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, m.Stats())
	assert.Equal(t, uint64(0), m.Stats().RequestSuccesses)
	assert.Equal(t, int32(0), api.creates.Load())
}

func TestManager_NoTicksAfterStop(t *testing.T) {
	api := &stubAPI{variants: oneVariant(0)}
	s := testSettings()
	s.ThreadCount = 3
	m := newTestManager(t, api, s, WithStagger(0))

	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { return m.Stats().RequestsStarted >= 3 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	time.Sleep(20 * time.Millisecond)
	settled := api.fetches.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, api.fetches.Load(), "workers kept polling after Stop")
}

func TestManager_StopDuringBoot(t *testing.T) {
	s := testSettings()
	s.ThreadCount = 5
	m := newTestManager(t, &stubAPI{variants: oneVariant(0)}, s, WithStagger(time.Hour))

	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { sp, _ := m.Progress(); return sp == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Booting, m.State())

	m.Stop()
	assert.Equal(t, Stopped, m.State())
	spawned, target := m.Progress()
	assert.Equal(t, 1, spawned)
	assert.Equal(t, 5, target)
}

func TestManager_RestartResetsStats(t *testing.T) {
	api := &stubAPI{variants: oneVariant(0)}
	m := newTestManager(t, api, testSettings(), WithStagger(0))

	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { return m.Stats().NoAvailableVariants >= 2 }, 2*time.Second, 5*time.Millisecond)
	first := m.SessionID()
	m.Stop()

	s := testSettings()
	s.PollIntervalMs = 10000
	require.NoError(t, m.Configure(s))
	require.NoError(t, m.Start(context.Background(), "tok"))
	assert.NotEqual(t, first, m.SessionID())
	assert.Equal(t, Counters{}, m.Stats())
	m.Stop()
}

func TestManager_HoldAllowsRestart(t *testing.T) {
	api := &stubAPI{variants: oneVariant(1)}
	s := testSettings()
	s.AutoStop = true
	m := newTestManager(t, api, s, WithStagger(0))

	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { return m.State() == Hold }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Start(context.Background(), "tok"))
	assert.NotEqual(t, Hold, m.State())
	m.Stop()
}

func TestManager_WithoutAutoStopKeepsRunning(t *testing.T) {
	api := &stubAPI{variants: oneVariant(2)}
	m := newTestManager(t, api, testSettings(), WithStagger(0))

	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { return m.Stats().BuySucceeded >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Running, m.State())
	m.Stop()
}

func TestManager_SessionSurvivesCallerContext(t *testing.T) {
	api := &stubAPI{variants: oneVariant(0)}
	m := newTestManager(t, api, testSettings(), WithStagger(0))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, "tok"))
	cancel()

	require.Eventually(t, func() bool { return m.Stats().RequestsStarted >= 2 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()
}

func TestManager_SettingsAndPriorities(t *testing.T) {
	s := testSettings()
	s.Priorities = []string{"vip", "standard"}
	m := newTestManager(t, &stubAPI{}, s)

	got := m.Settings()
	assert.Equal(t, []string{"vip", "standard"}, got.Priorities)

	_, err := m.Priorities().Add("balcony")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip", "standard", "balcony"}, m.Settings().Priorities)

	s.Priorities = []string{"1", "2", "3", "4", "5", "6"}
	err = m.Configure(s)
	assert.ErrorIs(t, err, ErrConfiguration)

	s.Priorities = nil
	s.EventID = "other"
	require.NoError(t, m.Configure(s))
	assert.Equal(t, "other", m.Settings().EventID)
	assert.Len(t, m.Settings().Priorities, 3)
}

type slowPublisher struct {
	capturePublisher
	delay time.Duration
}

func (s *slowPublisher) PublishNotice(ctx context.Context, n *queues.SessionNotice) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.capturePublisher.PublishNotice(ctx, n)
}

func TestManager_ShutdownWaitsForNotices(t *testing.T) {
	pub := &slowPublisher{delay: 30 * time.Millisecond}
	m := newTestManager(t, &stubAPI{variants: oneVariant(0)}, testSettings(), WithStagger(0), WithPublisher(pub))

	require.NoError(t, m.Start(context.Background(), "tok"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, Stopped, m.State())
	notices := pub.all()
	require.Len(t, notices, 1)
	assert.Equal(t, queues.NoticeSessionSummary, notices[0].Type)
	assert.Equal(t, queues.StatusStopped, notices[0].Status)
}

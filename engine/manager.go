package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ticket-reservation-bot/metrics"
	"ticket-reservation-bot/queues"
	"ticket-reservation-bot/selector"
	"ticket-reservation-bot/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type State string

const (
	Stopped State = "stopped"
	Booting State = "booting"
	Running State = "running"
	// Hold is entered when auto-stop tears the session down after a
	// reservation. It behaves exactly like Stopped.
	Hold State = "hold"
)

var allStates = []string{string(Stopped), string(Booting), string(Running), string(Hold)}

// DefaultStagger spaces out worker spawns during boot.
const DefaultStagger = 85 * time.Millisecond

const publishTimeout = 10 * time.Second

var ErrNotStopped = errors.New("engine is booting or running")

// Manager owns the worker pool, the lifecycle state and the session stats.
// Workers never see the state; they only emit events, which the Manager
// counts when the emitting worker is still in the active set.
type Manager struct {
	api        worker.API
	src        selector.Source
	publisher  queues.Publisher
	stagger    time.Duration
	newID      func() string
	priorities *selector.PriorityList
	stats      *Stats
	pending    sync.WaitGroup

	mu        sync.Mutex
	state     State
	settings  Settings
	sessionID string
	cancel    context.CancelFunc
	workers   map[string]struct{}
	target    int
	spawned   int
}

type Option func(*Manager)

func WithStagger(d time.Duration) Option {
	return func(m *Manager) { m.stagger = d }
}

// WithRandSource injects the fallback-selection source shared by all workers.
func WithRandSource(src selector.Source) Option {
	return func(m *Manager) { m.src = src }
}

// WithPublisher sends session notices through p.
func WithPublisher(p queues.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// NewManager returns a stopped manager. It fails with a *ConfigError when the
// initial priority list is over selector.MaxPriorityItems.
func NewManager(api worker.API, settings Settings, opts ...Option) (*Manager, error) {
	m := &Manager{
		api:        api,
		src:        selector.DefaultSource,
		stagger:    DefaultStagger,
		newID:      uuid.NewString,
		priorities: selector.NewPriorityList(),
		stats:      NewStats(),
		state:      Stopped,
		workers:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if settings.Priorities != nil {
		if err := m.priorities.Replace(settings.Priorities); err != nil {
			return nil, &ConfigError{Field: "priorities", Reason: err.Error()}
		}
	}
	settings.Priorities = nil
	m.settings = settings
	metrics.SetEngineState(string(Stopped), allStates...)
	return m, nil
}

// Configure replaces the session settings. It is rejected while a session
// is booting or running.
func (m *Manager) Configure(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Booting || m.state == Running {
		return ErrNotStopped
	}
	if s.Priorities != nil {
		if err := m.priorities.Replace(s.Priorities); err != nil {
			return &ConfigError{Field: "priorities", Reason: err.Error()}
		}
	}
	s.Priorities = nil
	m.settings = s
	log.Info().Str("eventId", s.EventID).Int("threads", s.ThreadCount).Msg("manager: settings updated")
	return nil
}

// Settings returns the current settings with the priority list filled in.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	s := m.settings
	m.mu.Unlock()

	items := m.priorities.Items()
	s.Priorities = make([]string, 0, len(items))
	for _, it := range items {
		s.Priorities = append(s.Priorities, it.Match)
	}
	return s
}

// Priorities exposes the editable priority list. Edits apply to the next
// session; running workers keep the snapshot taken at Start.
func (m *Manager) Priorities() *selector.PriorityList {
	return m.priorities
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Stats() Counters {
	return m.stats.Snapshot()
}

// Progress reports how many workers of the current session have been spawned.
func (m *Manager) Progress() (spawned, target int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawned, m.target
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Start validates the settings, resets the stats and boots the worker pool
// in the background. It returns ErrNotStopped unless the engine is Stopped
// or on Hold, and a *ConfigError for invalid settings.
func (m *Manager) Start(ctx context.Context, bearerToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Stopped && m.state != Hold {
		return ErrNotStopped
	}
	items := m.priorities.Items()
	if err := m.settings.Validate(items); err != nil {
		return err
	}
	if strings.TrimSpace(bearerToken) == "" {
		return &ConfigError{Field: "bearerToken", Reason: "must not be blank"}
	}

	cfg := m.settings.workerConfig(bearerToken, items)
	sessionID := m.newID()
	// The session outlives the request that started it.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.stats.Reset()
	m.sessionID = sessionID
	m.cancel = cancel
	m.workers = make(map[string]struct{})
	m.target = m.settings.ThreadCount
	m.spawned = 0
	m.setStateLocked(Booting)

	events := make(chan worker.Event, 16*m.settings.ThreadCount)
	go m.dispatch(sessCtx, sessionID, events)
	go m.boot(sessCtx, sessionID, cfg, m.settings.ThreadCount, events)

	log.Info().Str("sessionId", sessionID).Str("eventId", cfg.EventID).Int("threads", m.target).
		Dur("interval", cfg.PollInterval).Dur("timeout", cfg.RequestTimeout).Int("priorities", len(items)).
		Bool("strict", cfg.StrictPriority).Msg("manager: booting")
	return nil
}

// Stop cancels every worker and clears the active set. Events still in
// flight are discarded. Stopping a stopped engine is a no-op; stopping from
// Hold only moves the state to Stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Stopped:
		return
	case Hold:
		m.setStateLocked(Stopped)
		return
	}
	m.teardownLocked(Stopped)
}

// Shutdown stops the session and waits for queued session notices to be
// published or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) boot(ctx context.Context, sessionID string, cfg worker.Config, n int, events chan<- worker.Event) {
	emit := func(e worker.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	for i := 0; i < n; i++ {
		if i > 0 && !sleep(ctx, m.stagger) {
			return
		}
		w := worker.New(m.newID(), cfg, m.api, emit, m.src)

		m.mu.Lock()
		if m.sessionID != sessionID || ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.workers[w.ID()] = struct{}{}
		m.spawned++
		metrics.ActiveWorkers.Set(float64(len(m.workers)))
		m.mu.Unlock()

		go w.Run(ctx)
		log.Debug().Str("sessionId", sessionID).Str("workerId", w.ID()).Int("n", i+1).Int("of", n).Msg("manager: worker spawned")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == sessionID && m.state == Booting {
		m.setStateLocked(Running)
		log.Info().Str("sessionId", sessionID).Int("workers", len(m.workers)).Msg("manager: running")
	}
}

func (m *Manager) dispatch(ctx context.Context, sessionID string, events <-chan worker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			m.handle(sessionID, e)
		}
	}
}

func (m *Manager) handle(sessionID string, e worker.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID != sessionID {
		return
	}
	if _, ok := m.workers[e.WorkerID]; !ok {
		return
	}
	m.stats.Record(e)
	metrics.EventsTotal.WithLabelValues(e.Kind.String()).Inc()

	if e.Kind != worker.BuySucceeded {
		return
	}
	log.Info().Str("sessionId", sessionID).Str("workerId", e.WorkerID).Str("variant", e.VariantName).Msg("manager: reservation succeeded")
	variant, workerID := e.VariantName, e.WorkerID
	m.publishLocked(&queues.SessionNotice{
		Type:        queues.NoticeReservation,
		Status:      queues.StatusReserved,
		VariantName: &variant,
		WorkerID:    &workerID,
	})
	if m.settings.AutoStop {
		log.Info().Str("sessionId", sessionID).Msg("manager: auto-stop after reservation")
		m.teardownLocked(Hold)
	}
}

func (m *Manager) teardownLocked(final State) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	n := len(m.workers)
	m.workers = make(map[string]struct{})
	metrics.ActiveWorkers.Set(0)
	m.setStateLocked(final)

	status := queues.StatusStopped
	if final == Hold {
		status = queues.StatusHold
	}
	m.publishLocked(&queues.SessionNotice{
		Type:   queues.NoticeSessionSummary,
		Status: status,
		Stats:  m.stats.Snapshot().ByKind(),
	})
	log.Info().Str("sessionId", m.sessionID).Str("state", string(final)).Int("workers", n).Msg("manager: session torn down")
}

// publishLocked fills the session fields of n and sends it without blocking
// the caller.
func (m *Manager) publishLocked(n *queues.SessionNotice) {
	if m.publisher == nil {
		return
	}
	n.EnvelopeVersion = queues.EnvelopeVersion
	n.SessionID = m.sessionID
	n.EventID = m.settings.EventID
	n.At = time.Now()

	p := m.publisher
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.PublishNotice(ctx, n); err != nil {
			log.Warn().Err(err).Str("sessionId", n.SessionID).Str("type", string(n.Type)).Msg("manager: failed to publish session notice")
		}
	}()
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	metrics.SetEngineState(string(s), allStates...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

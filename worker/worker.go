package worker

import (
	"context"
	"time"

	"ticket-reservation-bot/metrics"
	"ticket-reservation-bot/selector"
	"ticket-reservation-bot/ticketapi"

	"github.com/rs/zerolog/log"
)

// API is the part of the ticketing client a worker needs.
type API interface {
	FetchEvent(ctx context.Context, eventID string, timeout time.Duration) (*ticketapi.EventSnapshot, error)
	FetchCart(ctx context.Context, bearerToken string, timeout time.Duration) (ticketapi.Cart, error)
	CreateReservation(ctx context.Context, bearerToken, inventoryID string, quantity int, timeout time.Duration) error
}

// Config is fixed for the lifetime of a worker.
type Config struct {
	EventID           string
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	BearerToken       string
	Priorities        []selector.PriorityItem
	StrictPriority    bool
	UseCustomQuantity bool
	CustomQuantity    int
	Filter            selector.FilterPolicy
}

// Worker polls one event and tries to reserve a variant on every tick.
type Worker struct {
	id   string
	cfg  Config
	api  API
	src  selector.Source
	emit func(Event)
	now  func() time.Time
}

// New returns a worker that reports through emit. src must be safe for
// concurrent use when shared between workers; nil uses selector.DefaultSource.
func New(id string, cfg Config, api API, emit func(Event), src selector.Source) *Worker {
	cfg.Priorities = append([]selector.PriorityItem(nil), cfg.Priorities...)
	if src == nil {
		src = selector.DefaultSource
	}
	return &Worker{id: id, cfg: cfg, api: api, src: src, emit: emit, now: time.Now}
}

func (w *Worker) ID() string { return w.id }

// Run ticks until ctx is cancelled. The next tick is scheduled PollInterval
// after the previous one returns, so ticks of one worker never overlap.
func (w *Worker) Run(ctx context.Context) {
	log.Debug().Str("workerId", w.id).Dur("interval", w.cfg.PollInterval).Msg("worker: started")
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("workerId", w.id).Msg("worker: stopped")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		w.Tick(ctx)
		timer.Reset(w.cfg.PollInterval)
	}
}

// Tick runs one fetch, filter, select and reserve cycle.
func (w *Worker) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	w.send(RequestStarted, "")

	snap, err := w.api.FetchEvent(ctx, w.cfg.EventID, w.cfg.RequestTimeout)
	if err != nil {
		log.Debug().Err(err).Str("workerId", w.id).Str("eventId", w.cfg.EventID).Msg("worker: fetch event failed")
		w.send(RequestError, "")
		return
	}

	available := selector.Available(snap.Variants, w.cfg.Filter, w.now())
	if len(available) == 0 {
		w.send(NoAvailableVariants, "")
		return
	}

	outcome := selector.Select(available, w.cfg.Priorities, w.cfg.StrictPriority, w.src)
	switch outcome.Kind {
	case selector.NoMatch:
		w.send(NoAvailableVariants, "")
	case selector.StrictSkip:
		w.send(StrictSkip, "")
	case selector.Selected:
		w.send(BuyAttempt, outcome.Variant.Name)
		w.reserve(ctx, outcome.Variant)
	}
}

func (w *Worker) reserve(ctx context.Context, v ticketapi.Variant) {
	maxReservable := v.MaxReservable()
	if maxReservable == 0 {
		w.send(BuyFailed, "")
		return
	}

	cart, err := w.api.FetchCart(ctx, w.cfg.BearerToken, w.cfg.RequestTimeout)
	if err != nil {
		log.Debug().Err(err).Str("workerId", w.id).Msg("worker: fetch cart failed")
		w.send(RequestError, "")
		return
	}
	w.send(RequestSucceeded, "")

	if cart.Contains(v.InventoryID) {
		w.send(AlreadyInCart, "")
		return
	}

	if ctx.Err() != nil {
		return
	}
	quantity := Quantity(v, w.cfg.UseCustomQuantity, w.cfg.CustomQuantity)
	if err := w.api.CreateReservation(ctx, w.cfg.BearerToken, v.InventoryID, quantity, w.cfg.RequestTimeout); err != nil {
		log.Debug().Err(err).Str("workerId", w.id).Str("variant", v.Name).Int("quantity", quantity).Msg("worker: reservation rejected")
		w.send(BuyFailed, "")
		return
	}
	log.Info().Str("workerId", w.id).Str("variant", v.Name).Int("quantity", quantity).Msg("worker: reservation created")
	w.send(BuySucceeded, v.Name)
}

// Quantity is the number of units to request for v: the maximum reservable
// amount, lowered to custom when a custom quantity is in use.
func Quantity(v ticketapi.Variant, useCustom bool, custom int) int {
	maxReservable := v.MaxReservable()
	if useCustom && custom < maxReservable {
		return custom
	}
	return maxReservable
}

func (w *Worker) send(kind EventKind, variantName string) {
	if w.emit == nil {
		return
	}
	w.emit(Event{Kind: kind, WorkerID: w.id, VariantName: variantName, At: w.now()})
}

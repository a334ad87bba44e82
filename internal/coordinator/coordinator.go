// Package coordinator implements the SchedulingCoordinator: the C7
// component that mediates every external mutation call into the
// TaskModel, pairs it with EventLog persistence and HistoryManager
// undo/redo recording, drives a CPMEngine recalculation, and publishes
// the resulting read model to subscribers. It is the only component
// external collaborators (grid UI, CLI, future web-worker transport)
// call directly; everything below it is reached only through here.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/core"
	"scheduling-core/internal/cpm"
	"scheduling-core/internal/events"
	"scheduling-core/internal/history"
	"scheduling-core/internal/taskmodel"
)

// Persister is the subset of *eventlog.Log the coordinator depends on,
// matching §9's re-architecture note: a small interface boundary
// (PersistenceSink) instead of a concrete cyclic reference between the
// task model and its persistence layer. *eventlog.Log satisfies this.
type Persister interface {
	Append(events.Event) events.Event
	PendingCount() int
	FatalErr() error
}

// Subscriber receives the published read model after every committed
// mutation batch (§4.7, §9's SchedulingSubscriber). The coordinator
// supports any number of subscribers, fanned out synchronously in
// registration order.
type Subscriber interface {
	Publish(ReadModel)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ReadModel)

// Publish calls f(rm).
func (f SubscriberFunc) Publish(rm ReadModel) { f(rm) }

// ReadModel is the immutable snapshot served to readers and subscribers:
// every task in the store (blank and phantom rows included) with derived
// fields populated by the last CPM run, the active calendar, the trade partner roster, and the run's
// stats. Callers must treat it as read-only; the coordinator always
// publishes a freshly built value rather than a shared mutable one.
type ReadModel struct {
	Tasks         []taskmodel.Task
	Calendar      calendar.Calendar
	TradePartners []taskmodel.TradePartner
	Stats         cpm.Stats
	PendingWrites int
	CanUndo       bool
	CanRedo       bool
}

// Coordinator owns the serial mutation queue (modeled as a mutex: the
// core is logically single-threaded per §5, and every public method
// below acquires the lock for its full duration so concurrent callers
// observe a linearization equivalent to sequential application).
type Coordinator struct {
	mu sync.Mutex

	store   *taskmodel.Store
	persist Persister
	history *history.Manager
	cfg     core.Config
	log     *core.Logger

	subscribers []Subscriber
	latest      ReadModel

	nowFn func() time.Time
}

// New wires a Coordinator from its already-constructed collaborators.
// The composition root (cmd/schedcore) is responsible for building
// store, persist, and hist and passing them in; the coordinator never
// constructs its own dependencies (§9's "explicit construction graph").
func New(store *taskmodel.Store, persist Persister, hist *history.Manager, cfg core.Config, log *core.Logger) *Coordinator {
	if log == nil {
		log = core.NewDefaultLogger()
	}
	return &Coordinator{
		store:   store,
		persist: persist,
		history: hist,
		cfg:     cfg,
		log:     log,
		nowFn:   time.Now,
	}
}

func (c *Coordinator) now() time.Time { return c.nowFn() }

// Subscribe registers s to receive every future published read model.
// Safe to call before or after Initialize.
func (c *Coordinator) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// ReadModel returns the most recently published read model. Reads never
// block on a mutation in progress beyond the brief critical section
// needed to copy the cached value.
func (c *Coordinator) ReadModel() ReadModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Initialize is the coordinator's only other suspension point besides
// the EventLog writer (§5): it recovers the store from the last
// snapshot plus replay, runs one CPM pass, and publishes the initial
// read model. ctx bounds the recovery I/O only; once this returns, every
// other Coordinator method is synchronous.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if recoverer, ok := c.persist.(interface {
		Recover(context.Context, *taskmodel.Store, *core.Logger) error
	}); ok {
		if err := recoverer.Recover(ctx, c.store, c.log); err != nil {
			return err
		}
	}
	c.recalcAndPublishLocked(c.now())
	return nil
}

// recalcAndPublishLocked runs one CPMEngine pass over the store's
// schedulable tasks, writes the derived fields back onto the store
// (never through an event-emitting mutation, per invariant 6), assigns
// visualRowNumber from the visible pre-order traversal, and publishes
// the resulting ReadModel to every subscriber. Callers must already hold
// c.mu.
func (c *Coordinator) recalcAndPublishLocked(now time.Time) {
	schedulable := c.store.GetSchedulableTasks()
	cal := c.store.Calendar()
	computed, stats := cpm.Calculate(schedulable, cal, c.cfg.CPMIterationCap, c.cfg.HealthAtRiskThreshold, now)

	if stats.Diverged {
		c.log.Warn("cpm: forward/backward pass hit iteration cap (%d tasks affected)", len(stats.DivergedIDs))
	}

	rowNumber := make(map[string]int, len(computed))
	for i, t := range c.store.GetVisibleTasks(func(id string) bool {
		visible := c.store.GetByID(id)
		return visible != nil && visible.Collapsed
	}) {
		rowNumber[t.ID] = i + 1
	}
	for i := range computed {
		if n, ok := rowNumber[computed[i].ID]; ok {
			computed[i].VisualRowNumber = n
		}
	}

	c.store.ApplyDerived(computed)

	rm := ReadModel{
		Tasks:         c.store.AllTasks(),
		Calendar:      cal,
		TradePartners: c.store.ListTradePartners(),
		Stats:         stats,
		CanUndo:       c.history.CanUndo(),
		CanRedo:       c.history.CanRedo(),
	}
	if c.persist != nil {
		rm.PendingWrites = c.persist.PendingCount()
	}
	c.latest = rm

	for _, sub := range c.subscribers {
		sub.Publish(rm)
	}
}

// appendLocked forwards a single event to the persistence sink. Callers
// must already hold c.mu.
func (c *Coordinator) appendLocked(e events.Event) {
	if c.persist != nil {
		c.persist.Append(e)
	}
}

// appendPairsLocked forwards the forward half of every pair to the
// persistence sink, in order, and records the whole slice as one
// HistoryManager action.
func (c *Coordinator) appendPairsLocked(pairs []events.Pair, label string) {
	if len(pairs) == 0 {
		return
	}
	c.history.RecordPairs(pairs, label)
	for _, p := range pairs {
		c.appendLocked(p.Forward)
	}
}

// newID returns a fresh task/partner id via uuid when the caller did not
// supply one.
func newID() string { return uuid.NewString() }

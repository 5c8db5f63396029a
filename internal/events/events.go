// internal/events/events.go
//
// In-process publish/subscribe for organization lifecycle events.
//
// Context
// -------
// Provisioning publishes `organization.created` once the tenant database is
// migrated and registered.  Side effects (owner sync today, welcome mail
// tomorrow) subscribe by name and never touch the provisioning code path.
//
// Delivery is synchronous: Publish runs every handler registered for the
// event, in registration order, on the caller's goroutine and context.  A
// failing or panicking handler never stops the ones after it; all failures
// come back to the publisher as one aggregated error.
//
// Notes
// -----
//   • Nothing is persisted.  A process crash mid-publish loses the event;
//     the provisioner's failed status plus Resume covers that.
//   • Two spaces after periods.

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/metrics"
)

// Organization lifecycle event names.
const (
	OrganizationCreated   = "organization.created"
	OrganizationActivated = "organization.activated"
	OrganizationFailed    = "organization.failed"
)

// Event is one delivery.  Data carries small string metadata such as the
// owner id or a failure reason.
type Event struct {
	ID             string
	Name           string
	OrganizationID string
	Data           map[string]string
	OccurredAt     time.Time
}

// New stamps an Event with a fresh id and the current time.
func New(name, orgID string, data map[string]string) Event {
	return Event{
		ID:             uuid.NewString(),
		Name:           name,
		OrganizationID: orgID,
		Data:           data,
		OccurredAt:     time.Now().UTC(),
	}
}

// HandlerFunc reacts to one event.
type HandlerFunc func(ctx context.Context, ev Event) error

// HandlerError identifies the handler behind one aggregated failure.
type HandlerError struct {
	Event   string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("event %s: handler %s: %v", e.Event, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type subscription struct {
	id   uint64
	name string
	fn   HandlerFunc
}

// Dispatcher routes events to subscribers.  Safe for concurrent use.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	log    *zap.SugaredLogger
}

// NewDispatcher returns an empty Dispatcher.  A nil logger means zap.S().
func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.S()
	}
	return &Dispatcher{subs: make(map[string][]subscription), log: log}
}

// Subscribe registers fn for every future publish of event.  handler names
// the subscriber in logs, metrics, and errors.  The returned function
// removes the subscription.
func (d *Dispatcher) Subscribe(event, handler string, fn HandlerFunc) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[event] = append(d.subs[event], subscription{id: id, name: handler, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			list := d.subs[event]
			for i, s := range list {
				if s.id == id {
					// Copy so an in-flight Publish keeps its own snapshot.
					next := make([]subscription, 0, len(list)-1)
					next = append(next, list[:i]...)
					d.subs[event] = append(next, list[i+1:]...)
					return
				}
			}
		})
	}
}

// Handlers reports how many subscribers event currently has.
func (d *Dispatcher) Handlers(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[event])
}

// Publish invokes every handler registered for ev.Name.  The returned error
// aggregates one *HandlerError per failed handler; use multierr.Errors to
// split it.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	subs := d.subs[ev.Name]
	d.mu.RUnlock()

	var errs error
	for _, s := range subs {
		if err := d.invoke(ctx, s, ev); err != nil {
			metrics.EventHandlerErrorsTotal.WithLabelValues(ev.Name, s.name).Inc()
			d.log.Errorw("event handler failed",
				"event", ev.Name, "event_id", ev.ID, "handler", s.name,
				"tenant", ev.OrganizationID, "err", err)
			errs = multierr.Append(errs, &HandlerError{Event: ev.Name, Handler: s.name, Err: err})
		}
	}
	d.log.Debugw("event published", "event", ev.Name, "event_id", ev.ID,
		"tenant", ev.OrganizationID, "handlers", len(subs))
	return errs
}

func (d *Dispatcher) invoke(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, ev)
}

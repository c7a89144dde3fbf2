package signals

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives signals.
type Handler func(Signal)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report recovered handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// Bus is a synchronous typed signal bus. The zero value is not usable; call
// NewBus.
type Bus struct {
	log *slog.Logger

	mu   sync.Mutex // serializes writers of subs
	subs atomic.Pointer[[]*Subscription]
}

// NewBus constructs an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(b)
	}
	empty := []*Subscription{}
	b.subs.Store(&empty)
	return b
}

// Subscription is the handle returned by the Subscribe family.
type Subscription struct {
	bus    *Bus
	kind   string
	active atomic.Bool
	// deliver applies the type match and filter, then runs the handler.
	deliver func(sig Signal)
}

// Kind is the name of the signal type the subscription was created for.
func (s *Subscription) Kind() string { return s.kind }

// Active reports whether the subscription still receives signals.
func (s *Subscription) Active() bool { return s.active.Load() }

// Unsubscribe stops delivery. It returns true only for the call that
// actually deactivated the subscription.
func (s *Subscription) Unsubscribe() bool {
	if !s.active.CompareAndSwap(true, false) {
		return false
	}
	s.bus.remove(s)
	return true
}

// Close is Unsubscribe for use with defer and io.Closer.
func (s *Subscription) Close() error {
	s.Unsubscribe()
	return nil
}

// Subscribe receives every signal.
func (b *Bus) Subscribe(h Handler) *Subscription {
	return b.SubscribeFunc(nil, h)
}

// SubscribeFunc receives every signal accepted by filter. A nil filter
// accepts everything.
func (b *Bus) SubscribeFunc(filter func(Signal) bool, h Handler) *Subscription {
	return SubscribeTyped(b, filter, func(sig Signal) { h(sig) })
}

// SubscribeTyped receives signals whose dynamic type is assignable to T and
// that filter accepts. T may be a concrete signal type or an interface. A nil
// filter accepts everything.
func SubscribeTyped[T Signal](b *Bus, filter func(T) bool, h func(T)) *Subscription {
	if h == nil {
		panic("signals: nil handler")
	}
	s := &Subscription{
		bus:  b,
		kind: typeName[T](),
		deliver: func(sig Signal) {
			typed, ok := sig.(T)
			if !ok {
				return
			}
			if filter != nil && !filter(typed) {
				return
			}
			h(typed)
		},
	}
	s.active.Store(true)
	b.add(s)
	return s
}

// Publish delivers sig synchronously to every matching active subscription.
// A nil signal is ignored.
func (b *Bus) Publish(sig Signal) {
	if sig == nil {
		return
	}
	for _, s := range *b.subs.Load() {
		if !s.active.Load() {
			continue
		}
		b.dispatch(s, sig)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	return len(*b.subs.Load())
}

func (b *Bus) dispatch(s *Subscription, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("signals.handler.panic",
				slog.String("signal", fmt.Sprintf("%T", sig)),
				slog.String("subscription", s.kind),
				slog.Any("panic", r))
		}
	}()
	s.deliver(sig)
}

func (b *Bus) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.subs.Load()
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	b.subs.Store(&next)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.subs.Load()
	next := make([]*Subscription, 0, len(cur))
	for _, existing := range cur {
		if existing != s {
			next = append(next, existing)
		}
	}
	b.subs.Store(&next)
}

func typeName[T any]() string {
	var zero *T
	return fmt.Sprintf("%T", zero)[1:]
}

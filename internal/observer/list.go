// Package observer implements ordered subscriber lists with unsubscribe closures.
package observer

import "sync"

type subscriber[T any] struct {
	fn func(T)
}

// List is an ordered set of callbacks. The zero value is ready to use.
type List[T any] struct {
	mu      sync.Mutex
	subs    []*subscriber[T]
	onPanic func(recovered any)
}

// OnPanic installs a handler called with the value recovered from a panicking
// subscriber. Without a handler the panic is dropped.
func (l *List[T]) OnPanic(fn func(recovered any)) {
	l.mu.Lock()
	l.onPanic = fn
	l.mu.Unlock()
}

// Subscribe appends fn and returns a closure removing it. The closure may be
// called any number of times, including from inside a notification.
func (l *List[T]) Subscribe(fn func(T)) func() {
	s := &subscriber[T]{fn: fn}

	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(s) })
	}
}

func (l *List[T]) remove(target *subscriber[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, s := range l.subs {
		if s == target {
			next := make([]*subscriber[T], 0, len(l.subs)-1)
			next = append(next, l.subs[:i]...)
			l.subs = append(next, l.subs[i+1:]...)
			return
		}
	}
}

// Notify calls every subscriber registered at the time of the call, in
// registration order. Subscriptions added or removed during the call take
// effect for the next notification.
func (l *List[T]) Notify(v T) {
	l.mu.Lock()
	snapshot := l.subs
	onPanic := l.onPanic
	l.mu.Unlock()

	for _, s := range snapshot {
		call(s.fn, v, onPanic)
	}
}

func call[T any](fn func(T), v T, onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	fn(v)
}

// Len returns the number of subscribers.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

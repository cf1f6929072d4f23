// Package metrics holds the primitives shared by the instrumentation
// interfaces of the rest, gateway and cache packages. Backends such as
// adapters/prometheus implement those interfaces; the core packages only
// see the types here.
package metrics

import "time"

// Timer measures one operation. ObserveDuration records the time elapsed
// since the timer was created.
//
//	defer m.RequestDuration(route).ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// TimerFunc adapts a plain function to Timer.
type TimerFunc func()

func (f TimerFunc) ObserveDuration() { f() }

// Since returns a Timer that passes the elapsed time to observe.
func Since(observe func(time.Duration)) Timer {
	start := time.Now()
	return TimerFunc(func() { observe(time.Since(start)) })
}

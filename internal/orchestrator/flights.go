package orchestrator

import "sync"

// Flight is one in-progress pipeline execution. Done is closed exactly once,
// when the worker finishes; Err is valid only after Done.
type Flight struct {
	done chan struct{}
	err  error
}

// Done reports completion of the execution this flight tracks.
func (f *Flight) Done() <-chan struct{} { return f.done }

// Err returns the execution outcome. Callers must wait on Done first.
func (f *Flight) Err() error { return f.err }

// flights coalesces concurrent triggers for the same job key onto a single
// execution. A trigger that arrives while the key is queued or running gets
// the existing flight instead of a second enqueue.
type flights struct {
	mu sync.Mutex
	m  map[string]*Flight
}

func newFlights() *flights {
	return &flights{m: make(map[string]*Flight)}
}

// begin returns the flight for key, creating it when none is in progress.
// started is true only for the caller that created it; that caller owns the
// enqueue and, on enqueue failure, the finish.
func (fl *flights) begin(key string) (f *Flight, started bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if f, ok := fl.m[key]; ok {
		return f, false
	}
	f = &Flight{done: make(chan struct{})}
	fl.m[key] = f
	return f, true
}

// finish records the outcome, releases the key, and wakes every waiter.
func (fl *flights) finish(key string, err error) {
	fl.mu.Lock()
	f, ok := fl.m[key]
	delete(fl.m, key)
	fl.mu.Unlock()

	if !ok {
		return
	}
	f.err = err
	close(f.done)
}

func (fl *flights) inFlight() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.m)
}

package rtconn

import (
	"log/slog"

	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/logctx"
)

// Callback handles one event. It reports failure through its Result instead
// of panicking; panics are recovered and reported all the same.
type Callback func(Event) Result

type resultKind int

const (
	resultDone resultKind = iota
	resultFail
	resultAsync
	resultAwait
)

// Result is what a Callback leaves behind: nothing, a failure, or pending
// work whose failure is reported when it resolves.
type Result struct {
	kind  resultKind
	err   error
	fn    func() error
	await <-chan error
}

// Done is the Result of a callback that finished successfully.
var Done = Result{}

// Fail reports err. Fail(nil) is Done.
func Fail(err error) Result {
	if err == nil {
		return Done
	}
	return Result{kind: resultFail, err: err}
}

// Async runs fn on its own goroutine and reports the error it returns.
func Async(fn func() error) Result {
	if fn == nil {
		return Done
	}
	return Result{kind: resultAsync, fn: fn}
}

// Await waits for one value from ch and reports it if it is a non-nil error.
// A closed channel counts as success.
func Await(ch <-chan error) Result {
	if ch == nil {
		return Done
	}
	return Result{kind: resultAwait, await: ch}
}

// Handle adapts a plain handler to a Callback.
func Handle(fn func(Event) error) Callback {
	return func(ev Event) Result { return Fail(fn(ev)) }
}

// guard wraps cb so that nothing it does escapes into the backend's
// dispatch goroutine.
func (s *Service) guard(path string, kind backend.EventKind, cb Callback) backend.Handler {
	fail := func(err error, v any) {
		s.reportSafely(&CallbackError{Identity: s.identity, Path: path, Kind: kind, Err: err, Value: v})
	}
	return func(ev backend.Event) {
		res, ok := invoke(cb, ev, fail)
		if !ok {
			return
		}
		switch res.kind {
		case resultFail:
			fail(res.err, nil)
		case resultAsync:
			go func() {
				defer recoverInto(fail)
				if err := res.fn(); err != nil {
					fail(err, nil)
				}
			}()
		case resultAwait:
			go func() {
				if err, ok := <-res.await; ok && err != nil {
					fail(err, nil)
				}
			}()
		}
	}
}

// invoke calls cb, converting a panic into a report. ok is false when cb
// panicked.
func invoke(cb Callback, ev backend.Event, fail func(error, any)) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			reportPanic(r, fail)
			res, ok = Done, false
		}
	}()
	return cb(ev), true
}

func recoverInto(fail func(error, any)) {
	if r := recover(); r != nil {
		reportPanic(r, fail)
	}
}

func reportPanic(r any, fail func(error, any)) {
	if err, isErr := r.(error); isErr {
		fail(err, nil)
		return
	}
	fail(nil, r)
}

// reportSafely hands e to the reporter. A panicking reporter is logged.
func (s *Service) reportSafely(e *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("error reporter panicked", slog.Any("panic", r), slog.String("err", e.Error()))
		}
	}()
	s.report(e)
}

func (s *Service) logCallbackError(e *CallbackError) {
	s.mu.Lock()
	state, epoch := s.state, s.epoch
	s.mu.Unlock()
	ctx := logctx.WithListenData(s.logContext(state, epoch), &logctx.ListenData{Path: e.Path, Kind: string(e.Kind)})
	s.log.ErrorContext(ctx, "callback failed", slog.String("err", e.Error()))
}

package future

import "sync"

// Submitter is the subset of the executor interface the combinators need.
// Declared here so the package does not depend on a concrete scheduler.
type Submitter interface {
	Submit(fn func()) error
}

// Then derives a future that resolves with fn applied to the parent's
// value. Errors skip fn and propagate as-is.
func Then[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	out := New[U]()

	f.WhenDone(func(value T, err error) {
		if err != nil {
			out.Fail(err)
			return
		}

		out.Complete(fn(value))
	})

	return out
}

// ThenRun derives a void future that runs fn after the parent succeeds.
func ThenRun[T any](f *Future[T], fn func()) *Future[Void] {
	return Then(f, func(T) Void {
		fn()
		return Void{}
	})
}

// Compose chains a future-returning continuation onto the parent. The
// derived future resolves with the result of the inner future.
func Compose[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	out := New[U]()

	f.WhenDone(func(value T, err error) {
		if err != nil {
			out.Fail(err)
			return
		}

		fn(value).WhenDone(func(inner U, err error) {
			if err != nil {
				out.Fail(err)
				return
			}

			out.Complete(inner)
		})
	})

	return out
}

// ComposeOn is Compose with the continuation pinned to the given executor.
// Components with single-goroutine state require their lifecycle steps to
// run on their own scheduler; this is the combinator that enforces it.
func ComposeOn[T, U any](exec Submitter, f *Future[T], fn func(T) *Future[U]) *Future[U] {
	out := New[U]()

	f.WhenDone(func(value T, err error) {
		if err != nil {
			out.Fail(err)
			return
		}

		err = exec.Submit(func() {
			fn(value).WhenDone(func(inner U, err error) {
				if err != nil {
					out.Fail(err)
					return
				}

				out.Complete(inner)
			})
		})

		if err != nil {
			out.Fail(err)
		}
	})

	return out
}

// RunOn derives a void future that runs fn on the given executor after the
// parent succeeds.
func RunOn[T any](exec Submitter, f *Future[T], fn func()) *Future[Void] {
	return ComposeOn(exec, f, func(T) *Future[Void] {
		fn()
		return Nil()
	})
}

// AllOf fans in a set of futures into one that completes when every input
// has completed, or fails with the first error observed.
func AllOf[T any](futures ...*Future[T]) *Future[Void] {
	if len(futures) == 0 {
		return Nil()
	}

	var (
		mut     sync.Mutex
		out     = New[Void]()
		pending = len(futures)
	)

	for _, f := range futures {
		f.WhenDone(func(_ T, err error) {
			mut.Lock()
			pending--
			last := pending == 0
			mut.Unlock()

			if err != nil {
				out.Fail(err)
				return
			}

			if last {
				out.Complete(Void{})
			}
		})
	}

	return out
}

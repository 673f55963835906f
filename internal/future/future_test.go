package future_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/internal/future"
)

func TestFuture_CompleteOnce(t *testing.T) {
	f := future.New[int]()

	require.True(t, f.Complete(42))
	require.False(t, f.Complete(43))
	require.False(t, f.Fail(errors.New("too late")))

	value, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestFuture_WaitContextExpired(t *testing.T) {
	f := future.New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_WhenDoneAfterCompletion(t *testing.T) {
	f := future.Completed("hello")

	var got string

	f.WhenDone(func(value string, err error) {
		got = value
	})

	require.Equal(t, "hello", got)
}

func TestFuture_Then(t *testing.T) {
	f := future.Completed(2)
	derived := future.Then(f, func(v int) int { return v * 2 })

	value, err := derived.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, value)
}

func TestFuture_ThenSkippedOnError(t *testing.T) {
	boom := errors.New("boom")
	f := future.Failed[int](boom)

	called := false
	derived := future.Then(f, func(v int) int {
		called = true
		return v
	})

	_, err := derived.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	require.False(t, called)
}

func TestFuture_Compose(t *testing.T) {
	f := future.Completed(3)

	derived := future.Compose(f, func(v int) *future.Future[string] {
		return future.Completed("got 3")
	})

	value, err := derived.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "got 3", value)
}

func TestFuture_ComposeOnExecutor(t *testing.T) {
	exec := executor.New("test")

	var ran bool

	f := future.New[future.Void]()

	derived := future.ComposeOn(exec, f, func(future.Void) *future.Future[future.Void] {
		ran = true
		return future.Nil()
	})

	f.Complete(future.Void{})

	_, err := derived.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
}

func TestFuture_RunOnExecutor(t *testing.T) {
	exec := executor.New("test")

	var ran bool

	derived := future.RunOn(exec, future.Completed(1), func() {
		ran = true
	})

	_, err := derived.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
}

func TestFuture_ComposeOnShutdownExecutor(t *testing.T) {
	exec := executor.New("test")
	exec.Shutdown()
	<-exec.Done()

	derived := future.ComposeOn(exec, future.Nil(), func(future.Void) *future.Future[future.Void] {
		return future.Nil()
	})

	_, err := derived.Wait(context.Background())
	require.ErrorIs(t, err, executor.ErrShutdown)
}

func TestFuture_AllOf(t *testing.T) {
	f1 := future.New[future.Void]()
	f2 := future.New[future.Void]()

	all := future.AllOf(f1, f2)

	select {
	case <-all.Done():
		t.Fatal("completed too early")
	default:
	}

	f1.Complete(future.Void{})
	f2.Complete(future.Void{})

	_, err := all.Wait(context.Background())
	require.NoError(t, err)
}

func TestFuture_AllOfFailsFast(t *testing.T) {
	boom := errors.New("boom")

	f1 := future.New[future.Void]()
	f2 := future.New[future.Void]()

	all := future.AllOf(f1, f2)
	f1.Fail(boom)

	_, err := all.Wait(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestFuture_AllOfEmpty(t *testing.T) {
	_, err := future.AllOf[future.Void]().Wait(context.Background())
	require.NoError(t, err)
}

package executor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/cohort/internal/executor"
)

func TestExecutor_RunsTasksInOrder(t *testing.T) {
	exec := executor.New("test")

	var got []int

	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		i := i

		require.NoError(t, exec.Submit(func() {
			got = append(got, i)

			if i == 99 {
				close(done)
			}
		}))
	}

	<-done

	require.Len(t, got, 100)

	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestExecutor_ShutdownDrainsQueue(t *testing.T) {
	exec := executor.New("test")

	var count int

	for i := 0; i < 10; i++ {
		require.NoError(t, exec.Submit(func() {
			count++
		}))
	}

	exec.Shutdown()

	select {
	case <-exec.Done():
	case <-time.After(time.Second):
		t.Fatal("executor did not drain in time")
	}

	require.Equal(t, 10, count)
}

func TestExecutor_SubmitAfterShutdown(t *testing.T) {
	exec := executor.New("test")
	exec.Shutdown()

	err := exec.Submit(func() {})
	require.ErrorIs(t, err, executor.ErrShutdown)
}

func TestExecutor_ShutdownFromOwnTask(t *testing.T) {
	exec := executor.New("test")

	require.NoError(t, exec.Submit(func() {
		exec.Shutdown()
	}))

	select {
	case <-exec.Done():
	case <-time.After(time.Second):
		t.Fatal("executor did not stop in time")
	}
}

package multierror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/cohort/internal/multierror"
)

func TestError_CombinedNilWhenEmpty(t *testing.T) {
	errs := multierror.New[string]()
	require.NoError(t, errs.Combined())
}

func TestError_CollectsByKey(t *testing.T) {
	boom := errors.New("boom")

	errs := multierror.New[string]()
	errs.Add("test-1", boom)
	errs.Add("test-2", errors.New("bang"))

	combined := errs.Combined()
	require.Error(t, combined)
	require.Equal(t, 2, errs.Len())
	require.ErrorIs(t, combined, boom)
	require.Contains(t, combined.Error(), "test-1: boom")
	require.Contains(t, combined.Error(), "test-2: bang")
}

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("tagged error reports its kind", func(t *testing.T) {
		// Given a tagged error
		err := NotFound("run %s not found", "abc")

		// Then the kind is extracted
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.Equal(t, "run abc not found", err.Error())
	})

	t.Run("wrapped tagged error keeps its kind", func(t *testing.T) {
		// Given a tagged error buried in a chain
		inner := Conflict("run is terminal")
		err := fmt.Errorf("marking run: %w", inner)

		// Then the kind survives wrapping
		assert.Equal(t, KindConflict, KindOf(err))
		assert.True(t, IsKind(err, KindConflict))
	})

	t.Run("untagged error classifies as fatal", func(t *testing.T) {
		err := stderrors.New("disk on fire")
		assert.Equal(t, KindFatal, KindOf(err))
	})

	t.Run("nil error has no kind", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(nil))
	})
}

func TestWrap(t *testing.T) {
	t.Run("wrap preserves the cause", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := Wrap(KindTransient, cause, "embedding request")

		require.Error(t, err)
		assert.True(t, stderrors.Is(err, cause))
		assert.Equal(t, KindTransient, KindOf(err))
	})

	t.Run("wrapping nil yields nil", func(t *testing.T) {
		assert.NoError(t, Wrap(KindTransient, nil, "nothing"))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("vector store unavailable")))
	assert.False(t, IsRetryable(Validation("bad scope")))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{NotFound("x"), 404},
		{Validation("x"), 400},
		{Conflict("x"), 409},
		{ExtractionSkipped("x"), 422},
		{Transient("x"), 503},
		{Fatal("x"), 500},
		{stderrors.New("plain"), 500},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(tc.err))
	}
}

func TestRetry(t *testing.T) {
	fastCfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		// Given a function that fails twice then succeeds
		attempts := 0
		err := Retry(context.Background(), fastCfg, func() error {
			attempts++
			if attempts < 3 {
				return Transient("not yet")
			}
			return nil
		})

		// Then retries happened and the call succeeded
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), fastCfg, func() error {
			attempts++
			return Transient("still down")
		})

		require.Error(t, err)
		assert.Equal(t, 4, attempts) // initial + 3 retries
	})

	t.Run("non-retryable error aborts immediately", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), fastCfg, func() error {
			attempts++
			return Validation("malformed")
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Retry(ctx, fastCfg, func() error {
			return Transient("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryWithResult(t *testing.T) {
	fastCfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}

	t.Run("returns the result on success", func(t *testing.T) {
		attempts := 0
		got, err := RetryWithResult(context.Background(), fastCfg, func() ([]float32, error) {
			attempts++
			if attempts < 2 {
				return nil, Transient("warming up")
			}
			return []float32{1, 2, 3}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, got)
	})

	t.Run("returns zero value on exhaustion", func(t *testing.T) {
		got, err := RetryWithResult(context.Background(), fastCfg, func() (int, error) {
			return 7, Transient("down")
		})

		require.Error(t, err)
		assert.Zero(t, got)
	})
}

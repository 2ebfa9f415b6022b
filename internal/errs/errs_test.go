package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
		kind Kind
	}{
		{"validation", Validation("signal", "price %v", -1.0), ErrValidation, KindValidation},
		{"rejection", Rejection("gate", "forbidden"), ErrRiskRejection, KindRiskRejection},
		{"external", External("quote", errors.New("timeout")), ErrExternalService, KindExternalService},
		{"computation", Computation("var", "empty series"), ErrComputation, KindComputation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.want)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(Validation("x", "bad")))
	assert.False(t, Retryable(Rejection("x", "no")))
	assert.True(t, Retryable(External("x", errors.New("down"))))
	assert.True(t, Retryable(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := External("getQuote", errors.New("connection refused"))
	assert.Equal(t, "getQuote: external_service: connection refused", err.Error())
	assert.ErrorIs(t, err, ErrExternalService)
	assert.NotErrorIs(t, err, ErrValidation)
}

package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, KindNone},
		{fmt.Errorf("%w: nil buffer", ErrInvalidParam), KindInvalid},
		{fmt.Errorf("%w: sendto", ErrSocket), KindSocket},
		{fmt.Errorf("%w: socket: operation not permitted", ErrPermissionDenied), KindPermission},
		{fmt.Errorf("receive: %w", fmt.Errorf("%w: no data", ErrTimeout)), KindTimeout},
		{ErrPoolExhausted, KindExhausted},
		{ErrNotFound, KindNotFound},
		{ErrUnsupported, KindUnsupported},
		{fmt.Errorf("%w: bad ttl", ErrConfigInvalid), KindConfig},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestKindPrefersPermissionOverSocket(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrSocket, ErrPermissionDenied)
	assert.Equal(t, KindPermission, Kind(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(fmt.Errorf("%w: recvfrom", ErrSocket)))
	assert.True(t, Retryable(ErrPoolExhausted))

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrInvalidParam))
	assert.False(t, Retryable(ErrPermissionDenied))
	assert.False(t, Retryable(ErrUnsupported))
	assert.False(t, Retryable(errors.New("boom")))
}

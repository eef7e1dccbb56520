package hw

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := NewError(KindTimeout, "mcu", "wait_operating_temp", "deadline elapsed").
		WithDetail("timeout", "30s").
		WithDetail("target_c", 52.0)

	msg := err.Error()
	assert.Contains(t, msg, "mcu: wait_operating_temp: deadline elapsed")
	assert.Contains(t, msg, "target_c=52")
	assert.Contains(t, msg, "timeout=30s")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "typed error",
			err:  NewError(KindSafety, "robot", "move_to", "motion fault"),
			want: KindSafety,
		},
		{
			name: "wrapped typed error",
			err: fmt.Errorf(
				"running phase: %w",
				NewError(KindConnection, "power", "connect", "refused"),
			),
			want: KindConnection,
		},
		{
			name: "context cancellation",
			err:  context.Canceled,
			want: KindCancelled,
		},
		{
			name: "context deadline",
			err:  fmt.Errorf("waiting: %w", context.DeadlineExceeded),
			want: KindTimeout,
		},
		{
			name: "untyped error",
			err:  fmt.Errorf("something broke"),
			want: Kind(""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("read tcp: connection reset")
	err := NewError(KindCommunication, "power", "measure_all", "exchange failed").
		WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindCommunication))
	assert.False(t, IsKind(err, KindTimeout))
}

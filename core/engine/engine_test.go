package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/detdb/core/concurrency/nullcc"
	"github.com/sushant-115/detdb/core/concurrency/serial"
	"github.com/sushant-115/detdb/core/concurrency/sparkle"
)

func TestNewControl(t *testing.T) {
	for _, tc := range []struct {
		name  string
		check func(t *testing.T, c any)
	}{
		{Null, func(t *testing.T, c any) { require.IsType(t, &nullcc.Control[uint64, string, int64, int64]{}, c) }},
		{Serial, func(t *testing.T, c any) { require.IsType(t, &serial.Control[uint64, string, int64, int64]{}, c) }},
		{Sparkle, func(t *testing.T, c any) { require.IsType(t, &sparkle.Control[uint64, string, int64, int64]{}, c) }},
		{"SPLICE", func(t *testing.T, c any) { require.IsType(t, &sparkle.Control[uint64, string, int64, int64]{}, c) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewControl[uint64, string, int64, int64](tc.name, Options{})
			require.NoError(t, err)
			tc.check(t, c)
		})
	}
}

func TestNewControl_Unknown(t *testing.T) {
	_, err := NewControl[uint64, string, int64, int64]("2pl", Options{})
	require.ErrorIs(t, err, ErrUnknownProtocol)
	require.Contains(t, err.Error(), "sparkle")
}

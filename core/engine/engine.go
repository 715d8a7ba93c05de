// Package engine builds a concurrency-control protocol from its configured
// name.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/concurrency"
	"github.com/sushant-115/detdb/core/concurrency/nullcc"
	"github.com/sushant-115/detdb/core/concurrency/serial"
	"github.com/sushant-115/detdb/core/concurrency/sparkle"
	"github.com/sushant-115/detdb/core/transaction"
	"github.com/sushant-115/detdb/core/transaction/txpool"
)

// Protocol names accepted by NewControl.
const (
	Null    = "null"
	Serial  = "serial"
	Sparkle = "sparkle"
	Splice  = "splice"
)

var ErrUnknownProtocol = errors.New("engine: unknown protocol")

// Protocols lists the accepted names.
func Protocols() []string {
	return []string{Null, Serial, Sparkle, Splice}
}

// Options carries the shared dependencies of every protocol. Zero fields fall
// back to no-op implementations.
type Options struct {
	Logger *zap.Logger
	Meter  metric.Meter
	// StealPolicy only applies to sparkle and splice.
	StealPolicy txpool.StealPolicy
}

// NewControl returns the protocol called name. Names are case-insensitive.
func NewControl[I transaction.ID, K comparable, V any, O any](name string, opts Options) (concurrency.Control[I, K, V, O], error) {
	switch strings.ToLower(name) {
	case Null:
		return nullcc.New[I, K, V, O](opts.Logger), nil
	case Serial:
		c, err := serial.New[I, K, V, O](opts.Logger, opts.Meter)
		if err != nil {
			return nil, err
		}
		return c, nil
	case Sparkle, Splice:
		g := sparkle.Whole
		if strings.EqualFold(name, Splice) {
			g = sparkle.Split
		}
		sopts := []sparkle.Option{sparkle.WithGranularity(g)}
		if opts.Logger != nil {
			sopts = append(sopts, sparkle.WithLogger(opts.Logger))
		}
		if opts.Meter != nil {
			sopts = append(sopts, sparkle.WithMeter(opts.Meter))
		}
		if opts.StealPolicy != nil {
			sopts = append(sopts, sparkle.WithStealPolicy(opts.StealPolicy))
		}
		c, err := sparkle.New[I, K, V, O](sopts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownProtocol, name, strings.Join(Protocols(), ", "))
	}
}

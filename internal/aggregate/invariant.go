package aggregate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrInvariantViolation is returned by a strict Guard when state would become inconsistent.
var ErrInvariantViolation = errors.New("invariant violation")

// Guard reports accounting inconsistencies. A strict guard fails the operation;
// a lenient guard logs, counts and lets the caller clamp.
type Guard struct {
	strict     bool
	violations *prometheus.CounterVec
	logger     *zap.Logger
}

// NewGuard builds a Guard. violations may be nil.
func NewGuard(strict bool, violations *prometheus.CounterVec, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{strict: strict, violations: violations, logger: logger}
}

// Strict reports whether violations are returned as errors.
func (g *Guard) Strict() bool {
	return g != nil && g.strict
}

// Violation records a named violation.
func (g *Guard) Violation(name string, fields ...zap.Field) error {
	if g == nil {
		return nil
	}
	if g.violations != nil {
		g.violations.WithLabelValues(name).Inc()
	}
	g.logger.Error("invariant violation", append([]zap.Field{zap.String("invariant", name)}, fields...)...)
	if g.strict {
		return fmt.Errorf("%w: %s", ErrInvariantViolation, name)
	}
	return nil
}

// NonNegative returns v, or zero after recording a violation when v < 0.
func (g *Guard) NonNegative(name string, v *big.Int, fields ...zap.Field) (*big.Int, error) {
	if v == nil || v.Sign() >= 0 {
		return v, nil
	}
	if err := g.Violation(name, append(fields, zap.String("value", v.String()))...); err != nil {
		return nil, err
	}
	return new(big.Int), nil
}

// Decrement subtracts one from a counter that must not go below zero.
func (g *Guard) Decrement(name string, v uint64, fields ...zap.Field) (uint64, error) {
	if v > 0 {
		return v - 1, nil
	}
	if err := g.Violation(name, fields...); err != nil {
		return 0, err
	}
	return 0, nil
}

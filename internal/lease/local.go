// Package lease provides the single-flight locks taken around a delivery tick.
// Local only guards one process; Redis and NATS guard a fleet of workers.
package lease

import (
	"context"
	"sync/atomic"
)

type Local struct {
	held atomic.Bool
}

func NewLocal() *Local { return &Local{} }

func (l *Local) TryAcquire(context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

func (l *Local) Release(context.Context) error {
	l.held.Store(false)
	return nil
}

package host

import (
	"sync"

	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

type lifecycleState uint8

const (
	lifecycleNew lifecycleState = iota
	lifecycleLive
	lifecycleFinalized
)

// Lifecycle allows exactly one runtime to be started and shut down. The
// process-wide guard is used unless WithLifecycle supplies another one.
type Lifecycle struct {
	mu    sync.Mutex
	state lifecycleState
}

var processLifecycle = NewLifecycle()

// NewLifecycle returns an unused guard.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

func (l *Lifecycle) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case lifecycleLive:
		return rserrors.DoubleInitialization("start")
	case lifecycleFinalized:
		return rserrors.AlreadyFinalized("start")
	}
	l.state = lifecycleLive
	return nil
}

func (l *Lifecycle) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != lifecycleLive {
		return rserrors.AlreadyFinalized("shutdown")
	}
	l.state = lifecycleFinalized
	return nil
}

// Live reports whether a runtime started under this guard is running.
func (l *Lifecycle) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == lifecycleLive
}

// Finalized reports whether the guard has been spent.
func (l *Lifecycle) Finalized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == lifecycleFinalized
}

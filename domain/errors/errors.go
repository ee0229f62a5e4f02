// Package errors provides the error taxonomy of the rooting layer.
// All error types support unwrapping via errors.As() and match their
// sentinel via errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/reglet-dev/rootscope/domain/entities"
)

// Sentinels matched by the typed errors below.
var (
	ErrCapacityExceeded     = stdErrors.New("frame capacity exceeded")
	ErrDispatch             = stdErrors.New("dispatch failed")
	ErrRuntimeException     = stdErrors.New("runtime exception")
	ErrAlreadyFinalized     = stdErrors.New("runtime already finalized")
	ErrDoubleInitialization = stdErrors.New("runtime already initialized")
	ErrQueueFull            = stdErrors.New("task queue full")
	ErrStaleHandle          = stdErrors.New("stale rooted handle")
	ErrOutputConsumed       = stdErrors.New("output already consumed")
	ErrScopeOrder           = stdErrors.New("scope popped out of order")
	ErrWrongThread          = stdErrors.New("not on the runtime thread")
	ErrCancelled            = stdErrors.New("task cancelled")
	ErrPanic                = stdErrors.New("panic at runtime boundary")
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is implemented by every error in this package so callers can
// turn it into a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// CapacityError is returned when a fixed-capacity frame cannot hold the
// requested roots. It is raised before any runtime call is attempted.
type CapacityError struct {
	Requested int
	Used      int
	Capacity  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("frame capacity exceeded: requested %d slot(s), %d of %d in use",
		e.Requested, e.Used, e.Capacity)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// ToErrorDetail implements DetailedError.
func (e *CapacityError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "capacity", Code: "capacity_exceeded", Recoverable: true}
}

// DispatchReason says why a call could not be dispatched.
type DispatchReason string

const (
	ReasonNotFound    DispatchReason = "not_found"
	ReasonArity       DispatchReason = "arity"
	ReasonType        DispatchReason = "type"
	ReasonNotCallable DispatchReason = "not_callable"
	ReasonUnsupported DispatchReason = "unsupported"
)

// DispatchError is the outer failure of a runtime call: no call happened.
type DispatchError struct {
	Err    error
	Reason DispatchReason
	Target string
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("dispatch %s failed (%s)", e.Target, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Is(target error) bool {
	return target == ErrDispatch
}

// ToErrorDetail implements DetailedError.
func (e *DispatchError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "dispatch", Code: string(e.Reason), Recoverable: true}
}

// Ref is anything that resolves to a collected-runtime handle after a
// validity check. Rooted values implement it.
type Ref interface {
	Handle() (entities.Handle, error)
}

// ExceptionError is the inner failure of a runtime call: the call ran and the
// collected runtime raised. Exception stays rooted in the scope the call was
// given, so it can be inspected for as long as that scope lives.
type ExceptionError struct {
	Exception Ref
	Message   string
}

func (e *ExceptionError) Error() string {
	if e.Message == "" {
		return "runtime exception"
	}
	return "runtime exception: " + e.Message
}

func (e *ExceptionError) Is(target error) bool {
	return target == ErrRuntimeException
}

// ToErrorDetail implements DetailedError.
func (e *ExceptionError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "exception", Code: "raised", Recoverable: true}
}

// LifecycleError reports a misuse of the one-shot runtime lifecycle.
// It is fatal: the process cannot get a new runtime.
type LifecycleError struct {
	Err error
	Op  string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *LifecycleError) ToErrorDetail() *entities.ErrorDetail {
	code := "lifecycle"
	switch {
	case stdErrors.Is(e.Err, ErrAlreadyFinalized):
		code = "already_finalized"
	case stdErrors.Is(e.Err, ErrDoubleInitialization):
		code = "double_initialization"
	}
	return &entities.ErrorDetail{Message: e.Error(), Type: "lifecycle", Code: code}
}

// AlreadyFinalized builds the error returned once the runtime has been torn down.
func AlreadyFinalized(op string) *LifecycleError {
	return &LifecycleError{Op: op, Err: ErrAlreadyFinalized}
}

// DoubleInitialization builds the error returned when a live runtime exists.
func DoubleInitialization(op string) *LifecycleError {
	return &LifecycleError{Op: op, Err: ErrDoubleInitialization}
}

// QueueFullError is returned when the pending task queue is at its bound.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("task queue full (capacity %d)", e.Capacity)
}

func (e *QueueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

// ToErrorDetail implements DetailedError.
func (e *QueueFullError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "queue", Code: "queue_full", Recoverable: true}
}

// StaleHandleError is returned when a rooted value or output is used after
// the frame that held its slot was popped.
type StaleHandleError struct {
	Slot       int
	Generation uint64
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("stale handle: slot %d of frame generation %d was released", e.Slot, e.Generation)
}

func (e *StaleHandleError) Is(target error) bool {
	return target == ErrStaleHandle
}

// ToErrorDetail implements DetailedError.
func (e *StaleHandleError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "stale", Code: "stale_handle"}
}

// OutputConsumedError is returned when an output is used a second time.
type OutputConsumedError struct {
	Slot int
}

func (e *OutputConsumedError) Error() string {
	return fmt.Sprintf("output for slot %d already consumed", e.Slot)
}

func (e *OutputConsumedError) Is(target error) bool {
	return target == ErrOutputConsumed
}

// ToErrorDetail implements DetailedError.
func (e *OutputConsumedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "scope", Code: "output_consumed"}
}

// ScopeOrderError is returned when a frame other than the top one is popped,
// or a frame is popped twice.
type ScopeOrderError struct {
	Depth int
	Top   int
}

func (e *ScopeOrderError) Error() string {
	return fmt.Sprintf("cannot pop frame at depth %d: top of stack is %d", e.Depth, e.Top)
}

func (e *ScopeOrderError) Is(target error) bool {
	return target == ErrScopeOrder
}

// ToErrorDetail implements DetailedError.
func (e *ScopeOrderError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "scope", Code: "scope_order"}
}

// WrongThreadError is returned when a goroutine that does not own the scope
// stack tries to use it.
type WrongThreadError struct {
	Owner  int64
	Caller int64
}

func (e *WrongThreadError) Error() string {
	return fmt.Sprintf("goroutine %d is not the runtime owner (owner %d)", e.Caller, e.Owner)
}

func (e *WrongThreadError) Is(target error) bool {
	return target == ErrWrongThread
}

// ToErrorDetail implements DetailedError.
func (e *WrongThreadError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "thread", Code: "wrong_thread"}
}

// CancelledError is the failure recorded for a cancelled task.
type CancelledError struct {
	Task  entities.TaskID
	State entities.TaskState
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled while %s", e.Task, e.State)
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// ToErrorDetail implements DetailedError.
func (e *CancelledError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "cancelled", Code: e.State.String(), Recoverable: true}
}

// PanicError is a panic intercepted at a runtime boundary and turned into a
// value so it never unwinds across the boundary.
type PanicError struct {
	Value any
	Where string
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Where, e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func (e *PanicError) Is(target error) bool {
	return target == ErrPanic
}

// ToErrorDetail implements DetailedError.
func (e *PanicError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "panic", Code: e.Where, Stack: e.Stack}
}

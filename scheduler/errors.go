package scheduler

import "errors"

var (
	// ErrChannelClosed is returned when an internal channel is closed by its
	// peer. It indicates a lifecycle bug in the caller and is fatal to the
	// scheduler.
	ErrChannelClosed = errors.New("scheduler: channel closed by peer")
	// ErrStopped is returned by operations on a scheduler that has stopped.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrAlreadyRunning is returned by Run when the scheduler is already
	// running or has run before.
	ErrAlreadyRunning = errors.New("scheduler: already running")
	// ErrUnknownNode is returned when an event names a validator outside the
	// configured set, or is addressed to its own sender.
	ErrUnknownNode = errors.New("scheduler: unknown node")
	// ErrScheduleMismatch is returned when installing a schedule built for a
	// different policy or validator count.
	ErrScheduleMismatch = errors.New("scheduler: schedule does not match policy")
)

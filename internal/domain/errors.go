// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists.
var ErrConflict = errors.New("conflict: resource already exists")

// ErrValidation indicates malformed caller input.
var ErrValidation = errors.New("validation failed")

// ErrBusy is returned when a turn is requested while another is in flight.
var ErrBusy = errors.New("agent is busy processing another turn")

// ErrCapacity is returned when a bounded registry is full.
var ErrCapacity = errors.New("capacity exceeded")

// ErrModelUnavailable indicates no language model is bound or reachable.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrContextBuild indicates the conversation context could not be assembled.
var ErrContextBuild = errors.New("context build failed")

// ErrSafetyBlocked indicates an operation was denied by the safety gate.
var ErrSafetyBlocked = errors.New("operation blocked by safety policy")

// ErrPersistence indicates a snapshot could not be read or written.
var ErrPersistence = errors.New("persistence failure")

package domain

import "errors"

// ErrNotFound is returned by store and service functions when the requested
// record does not exist. Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails business rule validation
// (e.g. unknown purpose, end time before start time).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrNoActiveTrip is returned by trip-control operations when no trip is in
// progress. Stopping a trip that does not exist is a reportable no-op, never
// a crash — handlers map this to HTTP 409.
var ErrNoActiveTrip = errors.New("no active trip")

// ErrTripInProgress is returned by Start when the single active-trip slot is
// already occupied. Exactly zero or one active trip may exist at a time.
var ErrTripInProgress = errors.New("trip already in progress")

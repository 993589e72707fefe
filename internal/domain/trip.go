// Package domain contains the core data types for the milelog trip logger.
// This package has zero external dependencies beyond uuid and is imported by
// every other internal package (localstore, remotestore, tracker, syncer,
// handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Purpose classifies a trip for mileage/tax accounting.
type Purpose string

const (
	PurposeBusiness Purpose = "business"
	PurposePersonal Purpose = "personal"
	PurposeMedical  Purpose = "medical"
	PurposeCharity  Purpose = "charity"
	PurposeOther    Purpose = "other"
)

// ValidPurpose reports whether p is one of the recognised purpose values.
func ValidPurpose(p Purpose) bool {
	switch p {
	case PurposeBusiness, PurposePersonal, PurposeMedical, PurposeCharity, PurposeOther:
		return true
	}
	return false
}

// GeoSample is a single location fix delivered by the sample source.
// Speed is the device-reported speed in mph; nil means the device did not
// supply one and the tracker derives speed from successive positions instead.
// Samples are ephemeral — they are never persisted directly.
type GeoSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationPoint is one recorded position along an active trip.
type LocationPoint struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveTrip is the single in-progress trip. At most one exists at a time;
// it is owned exclusively by the tracker and mirrored into the local store
// after every accepted movement so a crash loses at most one sample.
type ActiveTrip struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"`
	StartLocation string    `json:"start_location"`
	StartLat      float64   `json:"start_lat"`
	StartLon      float64   `json:"start_lon"`
	StartTime     time.Time `json:"start_time"`
	Purpose       Purpose   `json:"purpose"`
	Notes         string    `json:"notes,omitempty"`

	// Distance is the accumulated miles so far. It only ever grows while
	// the trip is active.
	Distance float64 `json:"distance"`

	LastLat float64         `json:"last_lat"`
	LastLon float64         `json:"last_lon"`
	Points  []LocationPoint `json:"points,omitempty"`
}

// Trip is a completed trip as stored in the local and remote stores.
// Once written, only Purpose and Notes may change; every other field is
// immutable. EndTime is never before StartTime.
type Trip struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"`
	StartLocation string    `json:"start_location"`
	EndLocation   string    `json:"end_location"`
	StartLat      float64   `json:"start_lat"`
	StartLon      float64   `json:"start_lon"`
	EndLat        float64   `json:"end_lat"`
	EndLon        float64   `json:"end_lon"`
	Distance      float64   `json:"distance"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Purpose       Purpose   `json:"purpose"`
	Notes         string    `json:"notes,omitempty"`

	// SyncedAt records the last successful reconciliation with the remote
	// store; nil means the trip has never been uploaded.
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PurposeStats is an aggregate of completed trips for one purpose value.
type PurposeStats struct {
	Purpose Purpose `json:"purpose"`
	Trips   int     `json:"trips"`
	Miles   float64 `json:"miles"`
}

// OrphanReport describes an active trip found in durable storage while the
// sample feed is not running — the signature of a prior crash or kill.
// The trip is surfaced for a user decision and never silently deleted.
type OrphanReport struct {
	Trip           ActiveTrip    `json:"trip"`
	Age            time.Duration `json:"age_ms"`
	NeedsAttention bool          `json:"needs_attention"`
}

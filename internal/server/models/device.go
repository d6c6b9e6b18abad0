package models

import "time"

// Location is a latitude/longitude pair reported by a device.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Device is a recording device bound to exactly one user. DeviceID is the
// stable public identifier; Name is the human-stable handle and is unique per
// owner. KeyHash proves possession of the device key, KeyFingerprint is only
// a lookup index over it.
type Device struct {
	DeviceID       string
	UserID         string
	Name           string
	KeyHash        string
	KeyFingerprint string
	LastSeenAt     *time.Time
	Location       *Location
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeviceSummary is the key-material-free projection returned by listings.
// Hash and fingerprint must never appear here.
type DeviceSummary struct {
	DeviceID   string
	Name       string
	LastSeenAt *time.Time
	Location   *Location
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

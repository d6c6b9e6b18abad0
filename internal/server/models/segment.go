package models

import "time"

// SegmentMimeType is the fixed media type of ingested payloads.
const SegmentMimeType = "video/mp4"

// Segment is an immutable recording chunk owned by one device.
// DurationMs is derived as max(0, FinishedAt-StartedAt) and SizeBytes as the
// decoded payload length; neither is trusted from the caller.
type Segment struct {
	ID         string
	DeviceID   string
	UserID     string
	DeviceName string
	Payload    []byte
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64
	SizeBytes  int64
	MimeType   string
	Location   *Location
	StorageKey string
	CreatedAt  time.Time
}

// SegmentEvent is the metadata-only notification emitted to subscribers after
// a segment is persisted. It never carries the payload.
type SegmentEvent struct {
	SegmentID  string    `json:"segmentId"`
	DeviceID   string    `json:"deviceId"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
	SizeBytes  int64     `json:"sizeBytes"`
}

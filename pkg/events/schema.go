package events

import "time"

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeDatasetExported   EventType = "dataset.exported"
	EventTypeDatasetImported   EventType = "dataset.imported"
	EventTypeDatasetUnresolved EventType = "dataset.unresolved"
)

// DatasetEvent is published on every finished export or import.
type DatasetEvent struct {
	Type          EventType      `json:"type"`
	SchemaVersion string         `json:"schema_version"`
	DatasetID     int64          `json:"dataset_id"`
	DatasetName   string         `json:"dataset_name"`
	Version       float64        `json:"version"`
	Destination   string         `json:"destination,omitempty"`
	Statistics    map[string]int `json:"statistics,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

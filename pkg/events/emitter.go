// Package events handles event emission for dataset lifecycle changes
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher writes a keyed JSON message. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, value any) error
}

// Emitter handles event emission for fern. A nil publisher turns every emit
// into a no-op.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EmitDatasetExported emits a dataset exported event
func (e *Emitter) EmitDatasetExported(ctx context.Context, id int64, name string, version float64) error {
	return e.emit(ctx, &DatasetEvent{
		Type:        EventTypeDatasetExported,
		DatasetID:   id,
		DatasetName: name,
		Version:     version,
	})
}

// EmitDatasetImported emits a dataset imported event
func (e *Emitter) EmitDatasetImported(ctx context.Context, id int64, name string, version float64, destination string) error {
	return e.emit(ctx, &DatasetEvent{
		Type:        EventTypeDatasetImported,
		DatasetID:   id,
		DatasetName: name,
		Version:     version,
		Destination: destination,
	})
}

// EmitDatasetUnresolved emits an event carrying the unlinked statistics of a
// failed import
func (e *Emitter) EmitDatasetUnresolved(ctx context.Context, id int64, name string, version float64, destination string, statistics map[string]int) error {
	return e.emit(ctx, &DatasetEvent{
		Type:        EventTypeDatasetUnresolved,
		DatasetID:   id,
		DatasetName: name,
		Version:     version,
		Destination: destination,
		Statistics:  statistics,
	})
}

func (e *Emitter) emit(ctx context.Context, event *DatasetEvent) error {
	if e == nil || e.publisher == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Emit")
	defer span.End()

	event.SchemaVersion = SchemaVersion
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}

	key := fmt.Sprintf("%s:%d", event.DatasetName, event.DatasetID)
	if err := e.publisher.Publish(ctx, key, string(event.Type), event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", event.Type)
		return err
	}

	return nil
}

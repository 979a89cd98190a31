package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logging"
)

type published struct {
	key       string
	eventType string
	value     any
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, key, eventType string, value any) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{key: key, eventType: eventType, value: value})
	return nil
}

func TestEmitter(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unresolved carries statistics", func(t *testing.T) {
		pub := &fakePublisher{}
		e := NewEmitter(pub, logging.NewNop())
		e.now = func() time.Time { return fixed }

		err := e.EmitDatasetUnresolved(context.Background(), 7, "example", 2, "example", map[string]int{"technosphere": 1})
		require.NoError(t, err)
		require.Len(t, pub.messages, 1)

		msg := pub.messages[0]
		assert.Equal(t, "example:7", msg.key)
		assert.Equal(t, "dataset.unresolved", msg.eventType)

		event := msg.value.(*DatasetEvent)
		assert.Equal(t, SchemaVersion, event.SchemaVersion)
		assert.Equal(t, fixed, event.Timestamp)
		assert.Equal(t, map[string]int{"technosphere": 1}, event.Statistics)
		assert.Equal(t, 2.0, event.Version)
	})

	t.Run("exported and imported", func(t *testing.T) {
		pub := &fakePublisher{}
		e := NewEmitter(pub, logging.NewNop())

		require.NoError(t, e.EmitDatasetExported(context.Background(), 1, "example", 0))
		require.NoError(t, e.EmitDatasetImported(context.Background(), 1, "example", 0, "example"))

		require.Len(t, pub.messages, 2)
		assert.Equal(t, "dataset.exported", pub.messages[0].eventType)
		assert.Equal(t, "dataset.imported", pub.messages[1].eventType)
		assert.Equal(t, "example", pub.messages[1].value.(*DatasetEvent).Destination)
	})

	t.Run("publish error is returned", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker down")}
		e := NewEmitter(pub, logging.NewNop())

		err := e.EmitDatasetExported(context.Background(), 1, "example", 0)
		assert.EqualError(t, err, "broker down")
	})

	t.Run("nil publisher is a no-op", func(t *testing.T) {
		e := NewEmitter(nil, logging.NewNop())
		assert.NoError(t, e.EmitDatasetExported(context.Background(), 1, "example", 0))

		var nilEmitter *Emitter
		assert.NoError(t, nilEmitter.EmitDatasetImported(context.Background(), 1, "example", 0, "example"))
	})
}

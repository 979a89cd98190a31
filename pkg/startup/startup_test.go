package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logging"
)

func recorder(log *[]string, name string, requires ...string) *Func {
	return &Func{
		Name:     name,
		Requires: requires,
		OnStart: func(context.Context) error {
			*log = append(*log, "start "+name)
			return nil
		},
		OnStop: func(context.Context) error {
			*log = append(*log, "stop "+name)
			return nil
		},
	}
}

func TestStartup(t *testing.T) {
	ctx := context.Background()

	t.Run("starts dependencies first and stops in reverse", func(t *testing.T) {
		var log []string
		s := New(logging.NewNop(), 1)
		s.Add(recorder(&log, "server", "store", "graph"))
		s.Add(recorder(&log, "graph"))
		s.Add(recorder(&log, "store"))

		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.Stop(ctx))

		assert.Equal(t, []string{
			"start store", "start graph", "start server",
			"stop server", "stop graph", "stop store",
		}, log)
		assert.Equal(t, StatusStopped, s.Status("server"))
	})

	t.Run("retries failed dependency", func(t *testing.T) {
		calls := 0
		s := New(logging.NewNop(), 3)
		s.backoffUnit = time.Millisecond
		s.Add(&Func{Name: "flaky", OnStart: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not ready")
			}
			return nil
		}})

		require.NoError(t, s.Start(ctx))
		assert.Equal(t, 3, calls)
		assert.Equal(t, StatusStarted, s.Status("flaky"))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		s := New(logging.NewNop(), 2)
		s.backoffUnit = time.Millisecond
		s.Add(&Func{Name: "down", OnStart: func(context.Context) error { return errors.New("refused") }})

		err := s.Start(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "startup failed after 2 attempts")
		assert.Contains(t, err.Error(), "refused")
		assert.Equal(t, StatusFailed, s.Status("down"))
	})

	t.Run("unknown dependency", func(t *testing.T) {
		var log []string
		s := New(logging.NewNop(), 1)
		s.Add(recorder(&log, "server", "missing"))

		err := s.Start(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown dependency 'missing'")
	})

	t.Run("cycle", func(t *testing.T) {
		var log []string
		s := New(logging.NewNop(), 1)
		s.Add(recorder(&log, "a", "b"))
		s.Add(recorder(&log, "b", "a"))

		err := s.Start(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dependency cycle")
	})
}

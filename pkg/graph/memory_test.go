package graph_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
)

func floatPtr(f float64) *float64 { return &f }

func production(db, code string) graph.Exchange {
	return graph.Exchange{Type: "production", Amount: 1, Input: graph.Key{Database: db, Code: code}}
}

func TestMemory_WriteDatabase(t *testing.T) {
	ctx := context.Background()

	t.Run("writes and rekeys activities", func(t *testing.T) {
		m := graph.NewMemory()
		err := m.WriteDatabase(ctx, "example", []string{"biosphere3"}, []graph.Activity{
			{Database: "other", Code: "A", Name: "steel", Exchanges: []graph.Exchange{production("example", "A")}},
		})
		require.NoError(t, err)

		got, err := m.Activity(ctx, graph.Key{Database: "example", Code: "A"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "example", got.Database)
		assert.Equal(t, graph.Key{Database: "example", Code: "A"}, got.Exchanges[0].Output)

		deps, err := m.DatabaseDependencies(ctx, "example")
		require.NoError(t, err)
		assert.Equal(t, []string{"biosphere3"}, deps)
	})

	t.Run("unresolved input writes nothing", func(t *testing.T) {
		m := graph.NewMemory()
		err := m.WriteDatabase(ctx, "example", nil, []graph.Activity{
			{Code: "A", Name: "steel", Exchanges: []graph.Exchange{production("example", "A")}},
			{Code: "B", Name: "iron", Exchanges: []graph.Exchange{{Type: "technosphere", Input: graph.Key{Database: "background", Code: "X"}}}},
		})
		var unresolved *graph.UnresolvedInputError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, graph.Key{Database: "background", Code: "X"}, unresolved.Input)

		ok, err := m.HasDatabase(ctx, "example")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("inputs resolve against existing databases", func(t *testing.T) {
		m := graph.NewMemory()
		require.NoError(t, m.WriteDatabase(ctx, "background", nil, []graph.Activity{{Code: "X", Name: "electricity"}}))
		require.NoError(t, m.WriteDatabase(ctx, "example", []string{"background"}, []graph.Activity{
			{Code: "A", Exchanges: []graph.Exchange{{Type: "technosphere", Input: graph.Key{Database: "background", Code: "X"}}}},
		}))

		names, err := m.Databases(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"background", "example"}, names)
	})

	t.Run("duplicate codes are rejected", func(t *testing.T) {
		m := graph.NewMemory()
		err := m.WriteDatabase(ctx, "example", nil, []graph.Activity{{Code: "A"}, {Code: "A"}})
		assert.Error(t, err)
	})

	t.Run("existing database is not replaced", func(t *testing.T) {
		m := graph.NewMemory()
		require.NoError(t, m.WriteDatabase(ctx, "example", []string{"biosphere3"}, []graph.Activity{{Code: "A", Name: "steel"}}))

		err := m.WriteDatabase(ctx, "example", nil, []graph.Activity{{Code: "B", Name: "iron"}})
		var exists *lcierrors.DatabaseExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, "example", exists.Name)

		got, err := m.Activities(ctx, "example")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "A", got[0].Code)

		deps, err := m.DatabaseDependencies(ctx, "example")
		require.NoError(t, err)
		assert.Equal(t, []string{"biosphere3"}, deps)
	})

	t.Run("concurrent writers of one name", func(t *testing.T) {
		m := graph.NewMemory()

		const writers = 8
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = m.WriteDatabase(ctx, "example", nil, []graph.Activity{{Code: "A"}})
			}(i)
		}
		wg.Wait()

		written := 0
		for _, err := range errs {
			if err == nil {
				written++
				continue
			}
			var exists *lcierrors.DatabaseExistsError
			assert.ErrorAs(t, err, &exists)
		}
		assert.Equal(t, 1, written)
	})
}

func TestMemory_Lookups(t *testing.T) {
	ctx := context.Background()
	m := graph.NewMemory()

	activities, err := m.Activities(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, activities)

	got, err := m.Activity(ctx, graph.Key{Database: "missing", Code: "A"})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = m.DatabaseDependencies(ctx, "missing")
	var notFound *lcierrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMemory_CloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	m := graph.NewMemory()
	require.NoError(t, m.WriteDatabase(ctx, "example", nil, []graph.Activity{
		{Code: "A", Name: "steel", Categories: []string{"metals"}, Exchanges: []graph.Exchange{
			{Type: "production", Amount: 1, Input: graph.Key{Database: "example", Code: "A"}, Uncertainty: graph.Uncertainty{Loc: floatPtr(1)}},
		}},
	}))

	clone := m.Clone()
	require.NoError(t, clone.WriteDatabase(ctx, "extra", nil, nil))

	activities, err := m.Activities(ctx, "example")
	require.NoError(t, err)
	activities[0].Categories[0] = "changed"
	*activities[0].Exchanges[0].Uncertainty.Loc = 9

	original, err := m.Activity(ctx, graph.Key{Database: "example", Code: "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"metals"}, original.Categories)
	assert.Equal(t, 1.0, *original.Exchanges[0].Uncertainty.Loc)

	ok, err := m.HasDatabase(ctx, "extra")
	require.NoError(t, err)
	assert.False(t, ok)

	cloned, err := clone.Activity(ctx, graph.Key{Database: "example", Code: "A"})
	require.NoError(t, err)
	assert.Equal(t, original, cloned)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	m := graph.NewMemory()
	require.NoError(t, m.WriteDatabase(ctx, "biosphere3", nil, []graph.Activity{{Code: "co2", Name: "Carbon dioxide", Type: "emission"}}))
	require.NoError(t, m.WriteDatabase(ctx, "example", []string{"biosphere3"}, []graph.Activity{
		{Code: "A", Exchanges: []graph.Exchange{production("example", "A")}},
	}))

	snap, err := graph.Snapshot(ctx, m)
	require.NoError(t, err)

	for _, name := range []string{"biosphere3", "example"} {
		want, err := m.Activities(ctx, name)
		require.NoError(t, err)
		got, err := snap.Activities(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

const fixture = `
databases:
  - name: biosphere3
    activities:
      - code: co2
        name: Carbon dioxide
        type: emission
        unit: kilogram
        categories: [air]
  - name: example
    depends: [biosphere3]
    activities:
      - code: A
        name: steel production
        type: process
        unit: kilogram
        location: DE
        reference_product: steel
        exchanges:
          - type: production
            amount: 1
            input: {code: A}
          - type: biosphere
            amount: 0.4
            input: {database: biosphere3, code: co2}
            uncertainty:
              type: "2"
              loc: 0.1
`

func TestLoadMemory(t *testing.T) {
	ctx := context.Background()

	m, err := graph.LoadMemory(strings.NewReader(fixture))
	require.NoError(t, err)

	a, err := m.Activity(ctx, graph.Key{Database: "example", Code: "A"})
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Len(t, a.Exchanges, 2)
	assert.Equal(t, graph.Key{Database: "example", Code: "A"}, a.Exchanges[0].Input)
	assert.Equal(t, graph.Key{Database: "example", Code: "A"}, a.Exchanges[1].Output)
	assert.Equal(t, 0.1, *a.Exchanges[1].Uncertainty.Loc)
	assert.Nil(t, a.Exchanges[1].Uncertainty.Scale)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	reloaded, err := graph.LoadMemory(&buf)
	require.NoError(t, err)
	for _, name := range []string{"biosphere3", "example"} {
		want, err := m.Activities(ctx, name)
		require.NoError(t, err)
		got, err := reloaded.Activities(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

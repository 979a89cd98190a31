package exporter_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/persistence"
)

const fixture = `
databases:
  - name: biosphere3
    activities:
      - code: co2
        name: Carbon dioxide
        type: emission
        unit: kilogram
        categories: [air]
  - name: background
    depends: [biosphere3]
    activities:
      - code: B
        name: electricity production
        type: process
        unit: kilowatt hour
        location: DE
        reference_product: electricity
        exchanges:
          - {type: production, amount: 1, input: {code: B}}
  - name: example
    depends: [background, biosphere3]
    activities:
      - code: A
        name: steel production
        type: process
        unit: kilogram
        location: DE
        reference_product: steel
        comment: hot rolled
        categories: [metals]
        exchanges:
          - {type: production, amount: 1, input: {code: A}}
          - type: technosphere
            amount: 2.5
            formula: 2.5 * scale
            input: {database: background, code: B}
            uncertainty: {type: "2", loc: 0.9, scale: 0.1}
          - {type: technosphere, amount: 0.5, input: {code: C}}
          - {type: biosphere, amount: 0.4, input: {database: biosphere3, code: co2}}
          - {type: biosphere, amount: 0.01, input: {code: m1}}
      - code: C
        name: iron production
        unit: kilogram
        location: DE
        reference_product: iron
        exchanges:
          - {type: production, amount: 1, input: {code: C}}
      - code: m1
        name: Methane
        type: emission
        unit: kilogram
        categories: [air, urban]
`

func loadSource(t *testing.T, extra string) *graph.Memory {
	t.Helper()
	source, err := graph.LoadMemory(strings.NewReader(fixture + extra))
	require.NoError(t, err)
	return source
}

func newExporter(t *testing.T, source graph.Source) (*exporter.Exporter, *persistence.Store) {
	t.Helper()
	store, err := persistence.OpenScratch(context.Background(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exp, err := exporter.New(exporter.Config{Databases: []string{"example"}, BiosphereVersion: "3.9"}, source, store, logging.NewNop())
	require.NoError(t, err)
	return exp, store
}

func findProcess(activities []models.ProcessActivityCreate, code string) *models.ProcessActivityCreate {
	for i := range activities {
		if activities[i].Code == code {
			return &activities[i]
		}
	}
	return nil
}

func TestNew_ValidatesConfig(t *testing.T) {
	source := graph.NewMemory()

	_, err := exporter.New(exporter.Config{Databases: []string{"example"}, BiosphereVersion: "4.0"}, source, nil, logging.NewNop())
	var validation *lcierrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = exporter.New(exporter.Config{}, source, nil, logging.NewNop())
	assert.Error(t, err)

	_, err = exporter.New(exporter.Config{Databases: []string{"example"}, BiosphereVersion: "3.8"}, source, nil, logging.NewNop())
	assert.NoError(t, err)
}

func TestExtractLCIData(t *testing.T) {
	ctx := context.Background()

	t.Run("flattens activities and exchanges", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, ""))

		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		require.Len(t, extraction.ProcessActivities, 2)
		require.Len(t, extraction.EmissionActivities, 1)
		assert.Empty(t, extraction.Warnings)

		a := findProcess(extraction.ProcessActivities, "exampleA")
		require.NotNil(t, a)
		assert.Equal(t, "example", a.DatabaseOld)
		assert.Equal(t, "hot rolled", *a.Comment)
		assert.Equal(t, "3.9", *a.BiosphereVersion)

		require.Len(t, a.TechnosphereExchanges, 3)
		production := a.TechnosphereExchanges[0]
		assert.Equal(t, "exampleA", production.OutputCode)
		assert.Equal(t, "exampleA", production.InputCode)
		assert.Equal(t, []string{"metals"}, production.Categories)

		electricity := a.TechnosphereExchanges[1]
		assert.Equal(t, "backgroundB", electricity.InputCode)
		assert.Equal(t, "electricity production", electricity.Name)
		assert.Equal(t, "kilowatt hour", electricity.Unit)
		assert.Equal(t, "electricity", electricity.ReferenceProduct)
		assert.Equal(t, "2.5 * scale", *electricity.Formula)
		assert.Equal(t, "2", *electricity.UncertaintyType)
		assert.Equal(t, 0.1, *electricity.Scale)
		assert.Nil(t, electricity.Shape)

		require.Len(t, a.BiosphereExchanges, 2)
		assert.Equal(t, "co2", a.BiosphereExchanges[0].InputCode)
		assert.Equal(t, []string{"air"}, a.BiosphereExchanges[0].Categories)
		assert.Nil(t, a.BiosphereExchanges[0].Location)
		assert.Equal(t, "examplem1", a.BiosphereExchanges[1].InputCode)

		c := findProcess(extraction.ProcessActivities, "exampleC")
		require.NotNil(t, c)
		assert.Equal(t, models.ActivityTypeProcess, c.Type)

		m1 := extraction.EmissionActivities[0]
		assert.Equal(t, "examplem1", m1.Code)
		assert.Equal(t, []string{"air", "urban"}, m1.Categories)
		assert.Nil(t, m1.Location)
	})

	t.Run("products are unsupported", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - {code: P, name: steel, type: product}
`))
		_, err := exp.ExtractLCIData(ctx)
		var unsupported *lcierrors.UnsupportedTypeError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "P", unsupported.Code)
	})

	t.Run("unknown activity type", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - {code: W, name: waste, type: waste}
`))
		_, err := exp.ExtractLCIData(ctx)
		var unknown *lcierrors.UnknownTypeError
		require.ErrorAs(t, err, &unknown)
		assert.Empty(t, unknown.Input)
	})

	t.Run("unknown exchange type", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - code: S
        name: scrap
        exchanges:
          - {type: substitution, amount: 1, input: {code: C}}
`))
		_, err := exp.ExtractLCIData(ctx)
		var unknown *lcierrors.UnknownTypeError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "substitution", unknown.Type)
		assert.Equal(t, graph.Key{Database: "example", Code: "C"}.String(), unknown.Input)
	})

	t.Run("extra attributes are reported", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - code: X
        name: extra
        extra: {production amount: 1}
        exchanges:
          - {type: production, amount: 1, input: {code: X}, extra: {pedigree: "1,2"}}
`))
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		warnings := lcierrors.Warnings(extraction.Warnings).Of(lcierrors.IncompleteExportWarning)
		require.Len(t, warnings, 2)
		assert.Contains(t, warnings[0].Message, "production amount")
		assert.Contains(t, warnings[1].Message, "pedigree")
	})

	t.Run("process categories without a production exchange are reported", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - code: P
        name: market for metals
        type: process
        unit: kilogram
        categories: [metals, market]
`))
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		warnings := lcierrors.Warnings(extraction.Warnings).Of(lcierrors.IncompleteExportWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, "P", warnings[0].Code)
		assert.Contains(t, warnings[0].Message, "metals, market")
	})

	t.Run("process categories on a foreign production exchange are reported", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - code: Q
        name: relabelled iron
        categories: [metals]
        exchanges:
          - {type: production, amount: 1, input: {code: C}}
`))
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		warnings := lcierrors.Warnings(extraction.Warnings).Of(lcierrors.IncompleteExportWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, "Q", warnings[0].Code)
	})

	t.Run("emission reference product and exchanges are reported", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - code: E
        name: flue gas
        type: emission
        unit: kilogram
        reference_product: gas
        exchanges:
          - {type: biosphere, amount: 1, input: {database: biosphere3, code: co2}}
`))
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		require.Len(t, extraction.EmissionActivities, 2)
		warnings := lcierrors.Warnings(extraction.Warnings).Of(lcierrors.IncompleteExportWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, "E", warnings[0].Code)
		assert.Contains(t, warnings[0].Message, "reference_product")
		assert.Contains(t, warnings[0].Message, "1 exchanges")
	})

	t.Run("emission without exchanges is clean", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - {code: E, name: flue gas, type: emission, unit: kilogram, categories: [air]}
`))
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		assert.Empty(t, extraction.Warnings)
	})
}

func TestCheckBackgroundDatabaseDependency(t *testing.T) {
	exp, _ := newExporter(t, loadSource(t, ""))

	deps, err := exp.CheckBackgroundDatabaseDependency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"background", "biosphere3"}, deps)
}

func testInput() exporter.MetadataInput {
	return exporter.MetadataInput{
		Name:             "steel",
		FinalDate:        "2024-03-31",
		Description:      "steel production in Germany",
		UserEmailAddress: "lca@example.com",
		Keywords:         []string{"steel"},
	}
}

func TestCreateMetadata_Versions(t *testing.T) {
	ctx := context.Background()
	exp, _ := newExporter(t, loadSource(t, ""))

	extraction, err := exp.ExtractLCIData(ctx)
	require.NoError(t, err)

	for want := 0; want < 3; want++ {
		metadata, warnings, err := exp.CreateMetadata(ctx, testInput())
		require.NoError(t, err)
		assert.Equal(t, float64(want), metadata.Version)
		assert.Equal(t, []string{"background", "biosphere3"}, metadata.Dependencies)
		if want == 0 {
			assert.Empty(t, warnings)
		} else {
			require.Len(t, warnings, 1)
			assert.Equal(t, lcierrors.DuplicateVersionWarning, warnings[0].Kind)
		}

		_, err = exp.ExportToSQL(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		require.NoError(t, err)
	}
}

func TestCreateMetadata_Invalid(t *testing.T) {
	exp, _ := newExporter(t, loadSource(t, ""))

	input := testInput()
	input.FinalDate = "31.03.2024"
	_, _, err := exp.CreateMetadata(context.Background(), input)
	var validation *lcierrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCreateMetadata_MultipleDatabases(t *testing.T) {
	store, err := persistence.OpenScratch(context.Background(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exp, err := exporter.New(exporter.Config{Databases: []string{"example", "background"}, BiosphereVersion: "3.9"}, loadSource(t, ""), store, logging.NewNop())
	require.NoError(t, err)

	metadata, warnings, err := exp.CreateMetadata(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"biosphere3"}, metadata.Dependencies)

	multiple := lcierrors.Warnings(warnings).Of(lcierrors.MultipleDatabasesWarning)
	require.Len(t, multiple, 1)
	assert.Contains(t, multiple[0].Message, "example, background")
}

func TestExportToSQL(t *testing.T) {
	ctx := context.Background()
	exp, store := newExporter(t, loadSource(t, ""))

	extraction, err := exp.ExtractLCIData(ctx)
	require.NoError(t, err)
	metadata, _, err := exp.CreateMetadata(ctx, testInput())
	require.NoError(t, err)

	id, err := exp.ExportToSQL(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
	require.NoError(t, err)

	stored, err := store.ReadProcessActivities(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i := range stored {
		assert.Equal(t, extraction.ProcessActivities[i], stored[i].ToCreate())
	}
}

func TestCheckActivitiesCompleteness(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip reproduces the export", func(t *testing.T) {
		source := loadSource(t, "")
		exp, store := newExporter(t, source)

		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		metadata, _, err := exp.CreateMetadata(ctx, testInput())
		require.NoError(t, err)

		warnings, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		require.NoError(t, err)
		assert.Empty(t, warnings)

		names, err := source.Databases(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"biosphere3", "background", "example"}, names)

		all, err := store.ReadAllDatasetMetadata(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("indistinguishable activities are reported", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, `
      - code: D
        name: iron production
        unit: kilogram
        location: DE
        reference_product: iron
        exchanges:
          - {type: production, amount: 1, input: {code: D}}
`))
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		metadata, _, err := exp.CreateMetadata(ctx, testInput())
		require.NoError(t, err)

		warnings, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, lcierrors.DuplicateKeyWarning, warnings[0].Kind)
		assert.Contains(t, warnings[0].Message, "exampleC, exampleD")
	})

	t.Run("divergence names the first differing field", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, ""))

		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		metadata, _, err := exp.CreateMetadata(ctx, testInput())
		require.NoError(t, err)

		findProcess(extraction.ProcessActivities, "exampleA").Name = "changed"

		_, err = exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		var mismatch *lcierrors.RoundTripMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "exampleA", mismatch.Code)
		assert.Equal(t, "exampleA", mismatch.Exchange)
		assert.Equal(t, "name", mismatch.Field)
		assert.Equal(t, `"steel production"`, mismatch.Expected)
		assert.Equal(t, `"changed"`, mismatch.Actual)
	})

	t.Run("unresolvable export fails", func(t *testing.T) {
		exp, _ := newExporter(t, loadSource(t, ""))

		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		metadata, _, err := exp.CreateMetadata(ctx, testInput())
		require.NoError(t, err)
		metadata.Dependencies = []string{"biosphere3"}

		_, err = exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		var unresolved *lcierrors.UnresolvedExchangesError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, 1, unresolved.Statistics["technosphere"])
	})
}

// countingScratch tracks how many scratch stores are open.
type countingScratch struct {
	mu     sync.Mutex
	opened int
	open   int
}

type trackedStore struct {
	*persistence.Store
	owner *countingScratch
}

func (s trackedStore) Close() error {
	s.owner.mu.Lock()
	s.owner.open--
	s.owner.mu.Unlock()
	return s.Store.Close()
}

func (c *countingScratch) opener(ctx context.Context, logger ectologger.Logger) (exporter.ScratchStore, error) {
	store, err := persistence.OpenScratch(ctx, logger)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.opened++
	c.open++
	c.mu.Unlock()
	return trackedStore{Store: store, owner: c}, nil
}

func TestCheckActivitiesCompleteness_ClosesScratch(t *testing.T) {
	ctx := context.Background()

	newCountingExporter := func(t *testing.T, source graph.Source) (*exporter.Exporter, *countingScratch) {
		t.Helper()
		store, err := persistence.OpenScratch(ctx, logging.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		scratch := &countingScratch{}
		exp, err := exporter.New(exporter.Config{Databases: []string{"example"}, BiosphereVersion: "3.9"}, source, store, logging.NewNop(),
			exporter.WithScratchOpener(scratch.opener))
		require.NoError(t, err)
		return exp, scratch
	}

	prepare := func(t *testing.T, exp *exporter.Exporter) (*exporter.Extraction, *models.DatasetMetadataCreate) {
		t.Helper()
		extraction, err := exp.ExtractLCIData(ctx)
		require.NoError(t, err)
		metadata, _, err := exp.CreateMetadata(ctx, testInput())
		require.NoError(t, err)
		return extraction, metadata
	}

	t.Run("success", func(t *testing.T) {
		exp, scratch := newCountingExporter(t, loadSource(t, ""))
		extraction, metadata := prepare(t, exp)

		_, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		require.NoError(t, err)
		assert.Equal(t, 1, scratch.opened)
		assert.Equal(t, 0, scratch.open)
	})

	t.Run("reconcile failure", func(t *testing.T) {
		exp, scratch := newCountingExporter(t, loadSource(t, ""))
		extraction, metadata := prepare(t, exp)
		metadata.Dependencies = []string{"biosphere3"}

		_, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		var unresolved *lcierrors.UnresolvedExchangesError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, 1, scratch.opened)
		assert.Equal(t, 0, scratch.open)
	})

	t.Run("comparison failure", func(t *testing.T) {
		exp, scratch := newCountingExporter(t, loadSource(t, ""))
		extraction, metadata := prepare(t, exp)
		findProcess(extraction.ProcessActivities, "exampleA").Unit = "ton"

		_, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		var mismatch *lcierrors.RoundTripMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 1, scratch.opened)
		assert.Equal(t, 0, scratch.open)
	})

	t.Run("export failure", func(t *testing.T) {
		exp, scratch := newCountingExporter(t, loadSource(t, ""))
		extraction, metadata := prepare(t, exp)
		extraction.EmissionActivities[0].Code = ""

		_, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		require.Error(t, err)
		assert.Equal(t, 1, scratch.opened)
		assert.Equal(t, 0, scratch.open)
	})
}

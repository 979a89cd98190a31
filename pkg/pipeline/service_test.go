package pipeline_test

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/persistence"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
)

const registry = `
databases:
  - name: biosphere3
    activities:
      - code: co2
        name: Carbon dioxide
        type: emission
        unit: kilogram
        categories: [air]
`

const background = `
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
`

const foreground = `
  - name: example
    depends: [background, biosphere3]
    activities:
      - code: A
        name: steel production
        type: process
        unit: kilogram
        location: DE
        reference_product: steel
        exchanges:
          - {type: production, amount: 1, input: {code: A}}
          - {type: technosphere, amount: 2.5, input: {database: background, code: B}}
          - {type: biosphere, amount: 0.4, input: {database: biosphere3, code: co2}}
          - {type: biosphere, amount: 0.01, input: {code: m1}}
      - code: m1
        name: Methane
        type: emission
        unit: kilogram
        categories: [air]
`

type event struct {
	kind        string
	name        string
	version     float64
	destination string
	statistics  map[string]int
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeEmitter) record(e event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeEmitter) EmitDatasetExported(_ context.Context, _ int64, name string, version float64) error {
	f.record(event{kind: "exported", name: name, version: version})
	return nil
}

func (f *fakeEmitter) EmitDatasetImported(_ context.Context, _ int64, name string, version float64, destination string) error {
	f.record(event{kind: "imported", name: name, version: version, destination: destination})
	return nil
}

func (f *fakeEmitter) EmitDatasetUnresolved(_ context.Context, _ int64, name string, version float64, destination string, statistics map[string]int) error {
	f.record(event{kind: "unresolved", name: name, version: version, destination: destination, statistics: statistics})
	return nil
}

type fakeLocker struct {
	keys []string
	busy bool
}

func (f *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	if f.busy {
		return redis.ErrLockNotAcquired
	}
	f.keys = append(f.keys, key)
	return fn(ctx)
}

type harness struct {
	store   *persistence.Store
	emitter *fakeEmitter
	locker  *fakeLocker
}

func load(t *testing.T, doc string) *graph.Memory {
	t.Helper()
	g, err := graph.LoadMemory(strings.NewReader(doc))
	require.NoError(t, err)
	return g
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := persistence.OpenScratch(context.Background(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &harness{store: store, emitter: &fakeEmitter{}, locker: &fakeLocker{}}
}

func (h *harness) service(g graph.Graph) *pipeline.Service {
	return pipeline.NewService(h.store, g, pipeline.Options{
		BiosphereVersion: "3.9",
		Locker:           h.locker,
		Emitter:          h.emitter,
	}, logging.NewNop())
}

func exportRequest() pipeline.ExportRequest {
	return pipeline.ExportRequest{
		Databases:        []string{"example"},
		Name:             "steel",
		FinalDate:        "2024-01-31",
		Description:      "steel from electricity",
		UserEmailAddress: "lca@example.org",
		Keywords:         []string{"steel"},
	}
}

func TestExportThenImport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	exported, err := h.service(load(t, registry+background+foreground)).Export(ctx, exportRequest())
	require.NoError(t, err)
	assert.Equal(t, "steel", exported.Name)
	assert.Equal(t, 0.0, exported.Version)
	assert.Equal(t, []string{"background", "biosphere3"}, exported.Dependencies)
	assert.Equal(t, 1, exported.ProcessActivities)
	assert.Equal(t, 1, exported.EmissionActivities)
	assert.Empty(t, exported.Warnings)

	target := load(t, registry+background)
	imported, err := h.service(target).Import(ctx, pipeline.ImportRequest{DatasetName: "steel"})
	require.NoError(t, err)
	assert.Equal(t, "committed", imported.State)
	assert.Equal(t, "steel", imported.Destination)
	assert.Equal(t, 2, imported.Activities)
	assert.Nil(t, imported.Statistics)

	activities, err := target.Activities(ctx, "steel")
	require.NoError(t, err)
	assert.Len(t, activities, 2)

	steel, err := target.Activity(ctx, graph.Key{Database: "steel", Code: "exampleA"})
	require.NoError(t, err)
	require.NotNil(t, steel)
	assert.Equal(t, "example", steel.Origin)
	require.Len(t, steel.Exchanges, 4)

	assert.Equal(t, []string{"import:steel"}, h.locker.keys)
	require.Len(t, h.emitter.events, 2)
	assert.Equal(t, "exported", h.emitter.events[0].kind)
	assert.Equal(t, event{kind: "imported", name: "steel", destination: "steel"}, h.emitter.events[1])
}

func TestExport_VersionsAndValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := h.service(load(t, registry+background+foreground))

	_, err := svc.Export(ctx, exportRequest())
	require.NoError(t, err)

	second, err := svc.Export(ctx, exportRequest())
	require.NoError(t, err)
	assert.Equal(t, 1.0, second.Version)
	require.Len(t, second.Warnings, 1)
	assert.Equal(t, lcierrors.DuplicateVersionWarning, second.Warnings[0].Kind)

	datasets, err := svc.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Len(t, datasets, 2)

	req := exportRequest()
	req.Name = ""
	_, err = svc.Export(ctx, req)
	var validation *lcierrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	req = exportRequest()
	req.Databases = []string{"missing"}
	_, err = svc.Export(ctx, req)
	assert.Error(t, err)
}

func TestExport_ConcurrentVersions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := h.service(load(t, registry+background+foreground))

	const exports = 4
	results := make([]*pipeline.ExportResult, exports)
	errs := make([]error, exports)

	var wg sync.WaitGroup
	for i := 0; i < exports; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Export(ctx, exportRequest())
		}(i)
	}
	wg.Wait()

	versions := make([]float64, 0, exports)
	for i := 0; i < exports; i++ {
		require.NoError(t, errs[i])
		versions = append(versions, results[i].Version)
	}
	sort.Float64s(versions)
	assert.Equal(t, []float64{0, 1, 2, 3}, versions)

	datasets, err := svc.ListDatasets(ctx)
	require.NoError(t, err)
	stored := make([]float64, 0, len(datasets))
	for _, d := range datasets {
		stored = append(stored, d.Version)
	}
	sort.Float64s(stored)
	assert.Equal(t, []float64{0, 1, 2, 3}, stored)

	imported, err := h.service(load(t, registry+background)).Import(ctx, pipeline.ImportRequest{DatasetName: "steel"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, imported.Version)
	assert.Equal(t, "committed", imported.State)
}

func TestImport_Unresolved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.service(load(t, registry+background+foreground)).Export(ctx, exportRequest())
	require.NoError(t, err)

	// The target lacks the background database the steel process consumes.
	target := load(t, registry)
	svc := h.service(target)

	result, err := svc.Import(ctx, pipeline.ImportRequest{DatasetName: "steel"})
	require.Error(t, err)
	assert.True(t, lcierrors.IsUnresolved(err))
	require.NotNil(t, result)
	assert.Equal(t, "partially_linked", result.State)
	assert.Equal(t, map[string]int{models.ExchangeTypeTechnosphere: 1}, result.Statistics)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, lcierrors.MissingDependencyWarning, result.Warnings[0].Kind)

	exists, err := target.HasDatabase(ctx, "steel")
	require.NoError(t, err)
	assert.False(t, exists)

	last := h.emitter.events[len(h.emitter.events)-1]
	assert.Equal(t, "unresolved", last.kind)
	assert.Equal(t, result.Statistics, last.statistics)

	var csv bytes.Buffer
	require.NoError(t, svc.WriteUnlinked(ctx, "steel", &csv))
	lines := strings.Split(strings.TrimSpace(csv.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "backgroundB")
	assert.Contains(t, lines[1], "electricity production")
}

func TestImport_DryRunAndLocking(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.service(load(t, registry+background+foreground)).Export(ctx, exportRequest())
	require.NoError(t, err)

	target := load(t, registry+background)
	svc := h.service(target)

	result, err := svc.Import(ctx, pipeline.ImportRequest{DatasetName: "steel", Destination: "copy", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "fully_linked", result.State)
	assert.Equal(t, "copy", result.Destination)
	exists, err := target.HasDatabase(ctx, "copy")
	require.NoError(t, err)
	assert.False(t, exists)

	h.locker.busy = true
	_, err = svc.Import(ctx, pipeline.ImportRequest{DatasetName: "steel"})
	var inProgress *lcierrors.ImportInProgressError
	require.ErrorAs(t, err, &inProgress)
	assert.Equal(t, "steel", inProgress.Destination)

	h.locker.busy = false
	_, err = svc.Import(ctx, pipeline.ImportRequest{DatasetName: "steel"})
	require.NoError(t, err)

	_, err = svc.Import(ctx, pipeline.ImportRequest{DatasetName: "steel"})
	var existsErr *lcierrors.DatabaseExistsError
	assert.ErrorAs(t, err, &existsErr)

	_, err = svc.Import(ctx, pipeline.ImportRequest{DatasetName: "unknown"})
	var notFound *lcierrors.DatasetNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDeleteDataset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := h.service(load(t, registry+background+foreground))

	exported, err := svc.Export(ctx, exportRequest())
	require.NoError(t, err)

	dataset, err := svc.GetDataset(ctx, exported.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, "steel", dataset.Name)

	require.NoError(t, svc.DeleteDataset(ctx, exported.DatasetID))

	_, err = svc.GetDataset(ctx, exported.DatasetID)
	var notFound *lcierrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	datasets, err := svc.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, datasets)
}

//go:build integration

package pipeline_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/fern/pkg/database"
	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/persistence"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, int) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	p, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)
	return host, p
}

func startPostgres(t *testing.T) database.Config {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fern",
			"POSTGRES_PASSWORD": "fern",
			"POSTGRES_DB":       "fern",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	return database.Config{
		Driver:   database.DriverPostgres,
		Host:     host,
		Port:     port,
		User:     "fern",
		Password: "fern",
		Name:     "fern",
		SSLMode:  "disable",
		MaxConns: 4,
	}
}

func startNeo4j(t *testing.T) graph.Neo4jConfig {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "neo4j:5",
		ExposedPorts: []string{"7687/tcp"},
		Env:          map[string]string{"NEO4J_AUTH": "none"},
		WaitingFor:   wait.ForLog("Started.").WithStartupTimeout(120 * time.Second),
	}, "7687")

	return graph.Neo4jConfig{Host: host, Port: port}
}

func startRedis(t *testing.T) redis.Config {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379")

	return redis.Config{Host: host, Port: port}
}

func TestIntegration_PostgresAndNeo4j(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNop()

	store, err := persistence.Open(ctx, startPostgres(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	neo, err := graph.NewNeo4jStore(startNeo4j(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = neo.Close(context.Background()) })

	client, err := redis.NewClient(ctx, startRedis(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Seed the graph store from the YAML fixtures.
	seed := load(t, registry+background+foreground)
	names, err := seed.Databases(ctx)
	require.NoError(t, err)
	for _, name := range names {
		depends, err := seed.DatabaseDependencies(ctx, name)
		require.NoError(t, err)
		activities, err := seed.Activities(ctx, name)
		require.NoError(t, err)
		require.NoError(t, neo.WriteDatabase(ctx, name, depends, activities))
	}

	var exists *lcierrors.DatabaseExistsError
	require.ErrorAs(t, neo.WriteDatabase(ctx, "background", nil, nil), &exists)
	kept, err := neo.Activities(ctx, "background")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	emitter := &fakeEmitter{}
	svc := pipeline.NewService(store, neo, pipeline.Options{
		Locker:  redis.NewLocker(client, "fern:test:"),
		Emitter: emitter,
	}, logger)

	exported, err := svc.Export(ctx, exportRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, exported.ProcessActivities)
	assert.Equal(t, 1, exported.EmissionActivities)

	imported, err := svc.Import(ctx, pipeline.ImportRequest{DatasetName: "steel", Destination: "steel_copy"})
	require.NoError(t, err)
	assert.Equal(t, "committed", imported.State)

	steel, err := neo.Activity(ctx, graph.Key{Database: "steel_copy", Code: "exampleA"})
	require.NoError(t, err)
	require.NotNil(t, steel)
	assert.Equal(t, "steel production", steel.Name)
	assert.Len(t, steel.Exchanges, 4)

	depends, err := neo.DatabaseDependencies(ctx, "steel_copy")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"background", "biosphere3"}, depends)

	require.Len(t, emitter.events, 2)
	assert.Equal(t, "imported", emitter.events[1].kind)

	// Concurrent exports race for the next version on a pooled connection.
	const exports = 4
	errs := make([]error, exports)
	var wg sync.WaitGroup
	for i := 0; i < exports; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Export(ctx, exportRequest())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	datasets, err := svc.ListDatasets(ctx)
	require.NoError(t, err)
	versions := make([]float64, 0, len(datasets))
	for _, d := range datasets {
		versions = append(versions, d.Version)
	}
	assert.ElementsMatch(t, []float64{0, 1, 2, 3, 4}, versions)
}

package persistence

import (
	"context"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/internal/repositories/datasetmetadata"
	"github.com/Ramsey-B/fern/internal/repositories/emissionactivity"
	"github.com/Ramsey-B/fern/internal/repositories/processactivity"
	"github.com/Ramsey-B/fern/pkg/database"
	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store is the relational persistence layer for exported datasets. Every
// create runs in one transaction per call and joins a transaction already
// carried by ctx.
type Store struct {
	db       database.DB
	metadata datasetmetadata.DatasetMetadataRepository
	process  processactivity.ProcessActivityRepository
	emission emissionactivity.EmissionActivityRepository
	logger   ectologger.Logger
}

func NewStore(conn database.DB, logger ectologger.Logger) *Store {
	return &Store{
		db:       conn,
		metadata: datasetmetadata.NewRepository(conn, logger),
		process:  processactivity.NewRepository(conn, logger),
		emission: emissionactivity.NewRepository(conn, logger),
		logger:   logger,
	}
}

// Open connects to the configured store and applies the embedded migrations.
func Open(ctx context.Context, cfg database.Config, logger ectologger.Logger) (*Store, error) {
	conn, err := database.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewStore(conn, logger), nil
}

// OpenScratch creates an isolated, migrated in-memory store. Closing it
// discards every row.
func OpenScratch(ctx context.Context, logger ectologger.Logger) (*Store, error) {
	conn, err := database.OpenInMemory(ctx, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewStore(conn, logger), nil
}

// Migrate applies the schema to conn idempotently.
func Migrate(conn database.DB, logger ectologger.Logger) error {
	return database.NewMigrationService(logger, &database.MigrationConfig{Migrations: db.Migrations}).Migrate(conn)
}

func (s *Store) DB() database.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateDatasetMetadata(ctx context.Context, create *models.DatasetMetadataCreate) (int64, error) {
	id, err := s.metadata.Create(ctx, create)
	if err != nil {
		return 0, &lcierrors.PersistenceError{Op: "create dataset metadata", Err: err}
	}
	return id, nil
}

func (s *Store) CreateProcessActivities(ctx context.Context, activities []models.ProcessActivityCreate, datasetID int64) error {
	if err := s.process.CreateBatch(ctx, activities, datasetID); err != nil {
		return &lcierrors.PersistenceError{Op: "create process activities", Err: err}
	}
	return nil
}

func (s *Store) CreateEmissionActivities(ctx context.Context, activities []models.EmissionActivityCreate, datasetID int64) error {
	if err := s.emission.CreateBatch(ctx, activities, datasetID); err != nil {
		return &lcierrors.PersistenceError{Op: "create emission activities", Err: err}
	}
	return nil
}

// exportAttempts bounds how often ExportDataset retries after a concurrent
// export claimed the same (name, version). Each retry loses only to an export
// that committed, so this many racers always finish.
const exportAttempts = 8

// ExportDataset writes metadata and both activity batches in a single
// transaction and returns the new dataset id. A version already stored under
// the same name is replaced by the next free one inside the transaction, and
// metadata.Version is updated to what was written.
func (s *Store) ExportDataset(ctx context.Context, metadata *models.DatasetMetadataCreate, process []models.ProcessActivityCreate, emission []models.EmissionActivityCreate) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.ExportDataset")
	defer span.End()

	var err error
	for attempt := 1; attempt <= exportAttempts; attempt++ {
		var id int64
		var owner bool
		id, owner, err = s.exportDataset(ctx, metadata, process, emission)
		if err == nil {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"dataset_id": id,
				"name":       metadata.Name,
				"version":    metadata.Version,
				"process":    len(process),
				"emission":   len(emission),
			}).Info("exported dataset")
			return id, nil
		}
		// A joined transaction is poisoned by the failed insert.
		if !owner || !database.IsUniqueViolation(err) {
			return 0, err
		}
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"name":    metadata.Name,
			"version": metadata.Version,
			"attempt": attempt,
		}).Warn("dataset version claimed concurrently, retrying export")
	}
	return 0, err
}

func (s *Store) exportDataset(ctx context.Context, metadata *models.DatasetMetadataCreate, process []models.ProcessActivityCreate, emission []models.EmissionActivityCreate) (int64, bool, error) {
	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return 0, true, &lcierrors.PersistenceError{Op: "export dataset", Err: err}
	}
	defer tx.Rollback(ctx)

	if err := s.assignVersion(ctx, metadata); err != nil {
		return 0, tx.IsOwner(), err
	}

	id, err := s.CreateDatasetMetadata(ctx, metadata)
	if err != nil {
		return 0, tx.IsOwner(), err
	}
	if err := s.CreateProcessActivities(ctx, process, id); err != nil {
		return 0, tx.IsOwner(), err
	}
	if err := s.CreateEmissionActivities(ctx, emission, id); err != nil {
		return 0, tx.IsOwner(), err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, tx.IsOwner(), &lcierrors.PersistenceError{Op: "export dataset", Err: err}
	}
	return id, tx.IsOwner(), nil
}

// assignVersion moves metadata.Version past the highest stored version of the
// same name when the requested one is taken.
func (s *Store) assignVersion(ctx context.Context, metadata *models.DatasetMetadataCreate) error {
	existing, err := s.metadata.ListByName(ctx, metadata.Name)
	if err != nil {
		return &lcierrors.PersistenceError{Op: "export dataset", Err: err}
	}

	taken := false
	highest := metadata.Version
	for _, m := range existing {
		if m.Version == metadata.Version {
			taken = true
		}
		if m.Version > highest {
			highest = m.Version
		}
	}
	if !taken {
		return nil
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"name":      metadata.Name,
		"requested": metadata.Version,
		"assigned":  highest + 1,
	}).Warn("dataset version already exported, assigning the next one")
	metadata.Version = highest + 1
	return nil
}

// ReadDatasetMetadata reads one dataset by id.
func (s *Store) ReadDatasetMetadata(ctx context.Context, id int64) (*models.DatasetMetadataRead, error) {
	metadata, err := s.metadata.GetByID(ctx, id)
	if err != nil {
		return nil, &lcierrors.PersistenceError{Op: "read dataset metadata", Err: err}
	}
	if metadata == nil {
		return nil, &lcierrors.NotFoundError{Entity: "dataset", Key: strconv.FormatInt(id, 10)}
	}
	return metadata, nil
}

// ReadDatasetMetadataByName reads the single dataset with the given name.
// Several versions are ambiguous; callers wanting the latest resolve it from
// ReadAllDatasetMetadata.
func (s *Store) ReadDatasetMetadataByName(ctx context.Context, name string) (*models.DatasetMetadataRead, error) {
	matches, err := s.metadata.ListByName(ctx, name)
	if err != nil {
		return nil, &lcierrors.PersistenceError{Op: "read dataset metadata", Err: err}
	}

	switch len(matches) {
	case 0:
		return nil, &lcierrors.NotFoundError{Entity: "dataset", Key: name}
	case 1:
		return &matches[0], nil
	default:
		versions := make([]float64, len(matches))
		for i, m := range matches {
			versions[i] = m.Version
		}
		return nil, &lcierrors.AmbiguousDatasetError{Name: name, Versions: versions}
	}
}

func (s *Store) ReadAllDatasetMetadata(ctx context.Context) ([]models.DatasetMetadataRead, error) {
	all, err := s.metadata.List(ctx)
	if err != nil {
		return nil, &lcierrors.PersistenceError{Op: "read all dataset metadata", Err: err}
	}
	return all, nil
}

func (s *Store) ReadProcessActivities(ctx context.Context, datasetID int64) ([]models.ProcessActivityRead, error) {
	activities, err := s.process.ListByDataset(ctx, datasetID)
	if err != nil {
		return nil, &lcierrors.PersistenceError{Op: "read process activities", Err: err}
	}
	return activities, nil
}

func (s *Store) ReadEmissionActivities(ctx context.Context, datasetID int64) ([]models.EmissionActivityRead, error) {
	activities, err := s.emission.ListByDataset(ctx, datasetID)
	if err != nil {
		return nil, &lcierrors.PersistenceError{Op: "read emission activities", Err: err}
	}
	return activities, nil
}

// DeleteDatasetMetadata removes a dataset and every row it owns.
func (s *Store) DeleteDatasetMetadata(ctx context.Context, id int64) error {
	deleted, err := s.metadata.Delete(ctx, id)
	if err != nil {
		return &lcierrors.PersistenceError{Op: "delete dataset metadata", Err: err}
	}
	if !deleted {
		return &lcierrors.NotFoundError{Entity: "dataset", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

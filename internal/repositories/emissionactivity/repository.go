package emissionactivity

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/category"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// EmissionActivityRepository defines the interface for emission activity operations
type EmissionActivityRepository interface {
	CreateBatch(ctx context.Context, activities []models.EmissionActivityCreate, datasetID int64) error
	ListByDataset(ctx context.Context, datasetID int64) ([]models.EmissionActivityRead, error)
}

// Repository implements EmissionActivityRepository
type Repository struct {
	db         database.DB
	categories *category.Repository
	logger     ectologger.Logger
}

// NewRepository creates a new emission activity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:         db,
		categories: category.NewRepository(db, logger),
		logger:     logger,
	}
}

// CreateBatch inserts every activity and its categories in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, activities []models.EmissionActivityCreate, datasetID int64) error {
	ctx, span := tracing.StartSpan(ctx, "EmissionActivityRepository.CreateBatch")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, activity := range activities {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(tableName)
		ib.Cols(activityColumns[1:]...)
		ib.Values(
			datasetID,
			activity.Code,
			activity.Name,
			activity.Unit,
			activity.Type,
			database.NullString(activity.Comment),
			activity.DatabaseOld,
			database.NullString(activity.BiosphereVersion),
			database.NullString(activity.Location),
		)

		id, err := database.InsertID(ctx, tx, ib, "id")
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"dataset_id": datasetID,
				"code":       activity.Code,
			}).Error("failed to create emission activity")
			return fmt.Errorf("failed to create emission activity %s: %w", activity.Code, err)
		}

		if err := r.categories.Insert(ctx, tx, category.EmissionActivity, id, activity.Categories); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"dataset_id": datasetID,
		"count":      len(activities),
	}).Info("created emission activities")

	return nil
}

// ListByDataset returns the dataset's emission activities ordered by insertion.
func (r *Repository) ListByDataset(ctx context.Context, datasetID int64) ([]models.EmissionActivityRead, error) {
	ctx, span := tracing.StartSpan(ctx, "EmissionActivityRepository.ListByDataset")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(activityColumns...)
	sb.From(tableName)
	sb.Where(sb.Equal("datasetmetadata_id", datasetID))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()

	var rows []ActivityRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list emission activities")
		return nil, fmt.Errorf("failed to list emission activities: %w", err)
	}

	categories, err := r.categories.ListByDataset(ctx, category.EmissionActivity, datasetID)
	if err != nil {
		return nil, err
	}

	out := make([]models.EmissionActivityRead, len(rows))
	for i, row := range rows {
		out[i] = ToEmissionActivity(row, categories[row.ID])
	}
	return out, nil
}

package datasetmetadata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DatasetMetadataRepository defines the interface for dataset metadata operations
type DatasetMetadataRepository interface {
	Create(ctx context.Context, create *models.DatasetMetadataCreate) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.DatasetMetadataRead, error)
	ListByName(ctx context.Context, name string) ([]models.DatasetMetadataRead, error)
	List(ctx context.Context) ([]models.DatasetMetadataRead, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Repository implements DatasetMetadataRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new dataset metadata repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the metadata row followed by its keywords and dependencies
// in one transaction.
func (r *Repository) Create(ctx context.Context, create *models.DatasetMetadataCreate) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetMetadataRepository.Create")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(tableName)
	ib.Cols("name", "final_date", "description", "version", "user_email_address")
	ib.Values(create.Name, create.FinalDate, create.Description, create.Version, create.UserEmailAddress)

	id, err := database.InsertID(ctx, tx, ib, "id")
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create dataset metadata")
		return 0, fmt.Errorf("failed to create dataset metadata: %w", err)
	}

	if err := r.insertChildren(ctx, tx, keywordTable, id, create.Keywords); err != nil {
		return 0, err
	}
	if err := r.insertChildren(ctx, tx, dependencyTable, id, create.Dependencies); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":      id,
		"name":    create.Name,
		"version": create.Version,
	}).Info("created dataset metadata")

	return id, nil
}

func (r *Repository) insertChildren(ctx context.Context, tx database.Tx, table string, datasetID int64, names []string) error {
	if len(names) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table)
	ib.Cols("name", "datasetmetadata_id")
	for _, name := range names {
		ib.Values(name, datasetID)
	}

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to insert %s rows", table)
		return fmt.Errorf("failed to insert %s rows: %w", table, err)
	}
	return nil
}

// GetByID gets a dataset by id. It returns nil when no row matches.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.DatasetMetadataRead, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetMetadataRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(metadataColumns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var row MetadataRow
	err := database.Conn(ctx, r.db).GetContext(ctx, &row, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get dataset metadata by ID")
		return nil, fmt.Errorf("failed to get dataset metadata: %w", err)
	}

	out, err := r.hydrate(ctx, []MetadataRow{row})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ListByName returns every version of the named dataset ordered by id.
func (r *Repository) ListByName(ctx context.Context, name string) ([]models.DatasetMetadataRead, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetMetadataRepository.ListByName")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(metadataColumns...)
	sb.From(tableName)
	sb.Where(sb.Equal("name", name))
	sb.OrderBy("id").Asc()

	return r.list(ctx, sb)
}

// List returns every dataset ordered by id.
func (r *Repository) List(ctx context.Context) ([]models.DatasetMetadataRead, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetMetadataRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(metadataColumns...)
	sb.From(tableName)
	sb.OrderBy("id").Asc()

	return r.list(ctx, sb)
}

func (r *Repository) list(ctx context.Context, sb *database.SelectBuilder) ([]models.DatasetMetadataRead, error) {
	query, args := sb.Build()

	var rows []MetadataRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list dataset metadata")
		return nil, fmt.Errorf("failed to list dataset metadata: %w", err)
	}

	return r.hydrate(ctx, rows)
}

// hydrate attaches keywords and dependencies to rows.
func (r *Repository) hydrate(ctx context.Context, rows []MetadataRow) ([]models.DatasetMetadataRead, error) {
	out := make([]models.DatasetMetadataRead, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]any, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	keywords, err := r.children(ctx, keywordTable, ids)
	if err != nil {
		return nil, err
	}
	dependencies, err := r.children(ctx, dependencyTable, ids)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out = append(out, ToDatasetMetadata(row, keywords[row.ID], dependencies[row.ID]))
	}
	return out, nil
}

func (r *Repository) children(ctx context.Context, table string, ids []any) (map[int64][]string, error) {
	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("id", "name", "datasetmetadata_id")
	sb.From(table)
	sb.Where(sb.In("datasetmetadata_id", ids...))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()

	var rows []ChildRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to list %s rows", table)
		return nil, fmt.Errorf("failed to list %s rows: %w", table, err)
	}

	out := make(map[int64][]string, len(ids))
	for _, row := range rows {
		out[row.DatasetMetadataID] = append(out[row.DatasetMetadataID], row.Name)
	}
	return out, nil
}

// Delete removes a dataset and, through cascading keys, every row it owns.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetMetadataRepository.Delete")
	defer span.End()

	del := database.NewDeleteBuilder(r.db.Flavor())
	del.DeleteFrom(tableName)
	del.Where(del.Equal("id", id))

	query, args := del.Build()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete dataset metadata")
		return false, fmt.Errorf("failed to delete dataset metadata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete dataset metadata: %w", err)
	}

	r.logger.WithContext(ctx).WithField("id", id).Info("deleted dataset metadata")

	return affected > 0, nil
}

package processactivity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/category"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ProcessActivityRepository defines the interface for process activity operations
type ProcessActivityRepository interface {
	CreateBatch(ctx context.Context, activities []models.ProcessActivityCreate, datasetID int64) error
	ListByDataset(ctx context.Context, datasetID int64) ([]models.ProcessActivityRead, error)
}

// Repository implements ProcessActivityRepository
type Repository struct {
	db         database.DB
	categories *category.Repository
	logger     ectologger.Logger
}

// NewRepository creates a new process activity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:         db,
		categories: category.NewRepository(db, logger),
		logger:     logger,
	}
}

// CreateBatch inserts every activity with its exchanges and their categories.
// The batch shares one transaction: a failure on any row leaves nothing behind.
func (r *Repository) CreateBatch(ctx context.Context, activities []models.ProcessActivityCreate, datasetID int64) error {
	ctx, span := tracing.StartSpan(ctx, "ProcessActivityRepository.CreateBatch")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, activity := range activities {
		if err := r.create(ctx, tx, activity, datasetID); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"dataset_id": datasetID,
				"code":       activity.Code,
			}).Error("failed to create process activity")
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"dataset_id": datasetID,
		"count":      len(activities),
	}).Info("created process activities")

	return nil
}

func (r *Repository) create(ctx context.Context, tx database.Tx, activity models.ProcessActivityCreate, datasetID int64) error {
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
		activity.Location,
		activity.ReferenceProduct,
	)

	activityID, err := database.InsertID(ctx, tx, ib, "id")
	if err != nil {
		return fmt.Errorf("failed to create process activity %s: %w", activity.Code, err)
	}

	for _, exchange := range activity.TechnosphereExchanges {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(technosphereTable)
		ib.Cols(technosphereColumns[1:]...)
		values := exchangeValues(activityID, exchange.ExchangeFields, sql.NullString{String: exchange.Location, Valid: true})
		ib.Values(append(values, exchange.ReferenceProduct)...)

		exchangeID, err := database.InsertID(ctx, tx, ib, "id")
		if err != nil {
			return fmt.Errorf("failed to create technosphere exchange %s -> %s: %w", exchange.OutputCode, exchange.InputCode, err)
		}
		if err := r.categories.Insert(ctx, tx, category.TechnosphereExchange, exchangeID, exchange.Categories); err != nil {
			return err
		}
	}

	for _, exchange := range activity.BiosphereExchanges {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(biosphereTable)
		ib.Cols(exchangeColumns[1:]...)
		ib.Values(exchangeValues(activityID, exchange.ExchangeFields, database.NullString(exchange.Location))...)

		exchangeID, err := database.InsertID(ctx, tx, ib, "id")
		if err != nil {
			return fmt.Errorf("failed to create biosphere exchange %s -> %s: %w", exchange.OutputCode, exchange.InputCode, err)
		}
		if err := r.categories.Insert(ctx, tx, category.BiosphereExchange, exchangeID, exchange.Categories); err != nil {
			return err
		}
	}

	return nil
}

// ListByDataset returns the dataset's activities ordered by insertion with
// exchanges and categories resolved.
func (r *Repository) ListByDataset(ctx context.Context, datasetID int64) ([]models.ProcessActivityRead, error) {
	ctx, span := tracing.StartSpan(ctx, "ProcessActivityRepository.ListByDataset")
	defer span.End()

	conn := database.Conn(ctx, r.db)

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(activityColumns...)
	sb.From(tableName)
	sb.Where(sb.Equal("datasetmetadata_id", datasetID))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()

	var rows []ActivityRow
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list process activities")
		return nil, fmt.Errorf("failed to list process activities: %w", err)
	}

	activities := make([]models.ProcessActivityRead, len(rows))
	index := make(map[int64]int, len(rows))
	for i, row := range rows {
		activities[i] = ToProcessActivity(row)
		index[row.ID] = i
	}

	technosphere, err := r.listTechnosphere(ctx, conn, datasetID)
	if err != nil {
		return nil, err
	}
	for _, exchange := range technosphere {
		i := index[exchange.ActivityID]
		activities[i].TechnosphereExchanges = append(activities[i].TechnosphereExchanges, exchange)
	}

	biosphere, err := r.listBiosphere(ctx, conn, datasetID)
	if err != nil {
		return nil, err
	}
	for _, exchange := range biosphere {
		i := index[exchange.ActivityID]
		activities[i].BiosphereExchanges = append(activities[i].BiosphereExchanges, exchange)
	}

	return activities, nil
}

func (r *Repository) exchangeSelect(table string, columns []string, datasetID int64) (string, []any) {
	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(database.Qualify(table, columns...)...)
	sb.From(table)
	sb.Join(tableName, fmt.Sprintf("%s.id = %s.activity_id", tableName, table))
	sb.Where(sb.Equal(tableName+".datasetmetadata_id", datasetID))
	sb.OrderBy(table + ".id").Asc()
	return sb.Build()
}

func (r *Repository) listTechnosphere(ctx context.Context, conn database.Queryer, datasetID int64) ([]models.TechnosphereExchangeRead, error) {
	query, args := r.exchangeSelect(technosphereTable, technosphereColumns, datasetID)

	var rows []TechnosphereRow
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list technosphere exchanges")
		return nil, fmt.Errorf("failed to list technosphere exchanges: %w", err)
	}

	categories, err := r.categories.ListByDataset(ctx, category.TechnosphereExchange, datasetID)
	if err != nil {
		return nil, err
	}

	out := make([]models.TechnosphereExchangeRead, len(rows))
	for i, row := range rows {
		out[i] = ToTechnosphereExchange(row, categories[row.ID])
	}
	return out, nil
}

func (r *Repository) listBiosphere(ctx context.Context, conn database.Queryer, datasetID int64) ([]models.BiosphereExchangeRead, error) {
	query, args := r.exchangeSelect(biosphereTable, exchangeColumns, datasetID)

	var rows []ExchangeRow
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list biosphere exchanges")
		return nil, fmt.Errorf("failed to list biosphere exchanges: %w", err)
	}

	categories, err := r.categories.ListByDataset(ctx, category.BiosphereExchange, datasetID)
	if err != nil {
		return nil, err
	}

	out := make([]models.BiosphereExchangeRead, len(rows))
	for i, row := range rows {
		out[i] = ToBiosphereExchange(row, categories[row.ID])
	}
	return out, nil
}

package category

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const tableName = "category"

// Parent identifies which of the three mutually exclusive owners a category
// row belongs to.
type Parent struct {
	column    string
	table     string
	joinTable string
	joinOn    string
}

var (
	TechnosphereExchange = Parent{
		column:    "technosphereexchange_id",
		table:     "technosphere_exchange",
		joinTable: "process_activity",
		joinOn:    "process_activity.id = technosphere_exchange.activity_id",
	}
	BiosphereExchange = Parent{
		column:    "biosphereexchange_id",
		table:     "biosphere_exchange",
		joinTable: "process_activity",
		joinOn:    "process_activity.id = biosphere_exchange.activity_id",
	}
	EmissionActivity = Parent{
		column: "emissionactivity_id",
		table:  "emission_activity",
	}
)

// CategoryRow is a category name keyed by its owner
type CategoryRow struct {
	ParentID int64  `db:"parent_id"`
	Name     string `db:"name"`
}

// Repository reads and writes category rows on behalf of the activity
// repositories. It never opens transactions itself.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert writes names, in order, under one parent.
func (r *Repository) Insert(ctx context.Context, q database.Queryer, parent Parent, parentID int64, names []string) error {
	if len(names) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(tableName)
	ib.Cols("name", parent.column)
	for _, name := range names {
		ib.Values(name, parentID)
	}

	query, args := ib.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to insert %s categories", parent.table)
		return fmt.Errorf("failed to insert %s categories: %w", parent.table, err)
	}
	return nil
}

// ListByDataset returns the ordered category names of every parent of the
// given kind that belongs to datasetID.
func (r *Repository) ListByDataset(ctx context.Context, parent Parent, datasetID int64) (map[int64][]string, error) {
	ctx, span := tracing.StartSpan(ctx, "CategoryRepository.ListByDataset")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(sb.As(tableName+"."+parent.column, "parent_id"), tableName+".name")
	sb.From(tableName)
	sb.Join(parent.table, fmt.Sprintf("%s.id = %s.%s", parent.table, tableName, parent.column))
	if parent.joinTable != "" {
		sb.Join(parent.joinTable, parent.joinOn)
		sb.Where(sb.Equal(parent.joinTable+".datasetmetadata_id", datasetID))
	} else {
		sb.Where(sb.Equal(parent.table+".datasetmetadata_id", datasetID))
	}
	sb.OrderBy(tableName + ".id").Asc()

	query, args := sb.Build()

	var rows []CategoryRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to list %s categories", parent.table)
		return nil, fmt.Errorf("failed to list %s categories: %w", parent.table, err)
	}

	out := make(map[int64][]string)
	for _, row := range rows {
		out[row.ParentID] = append(out[row.ParentID], row.Name)
	}
	return out, nil
}

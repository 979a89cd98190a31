package processactivity

import (
	"database/sql"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	tableName         = "process_activity"
	technosphereTable = "technosphere_exchange"
	biosphereTable    = "biosphere_exchange"
)

var (
	activityColumns     = []string{"id", "datasetmetadata_id", "code", "name", "unit", "type", "comment", "database_old", "biosphere_version", "location", "reference_product"}
	exchangeColumns     = []string{"id", "activity_id", "output_code", "input_code", "name", "amount", "type", "unit", "location", "formula", "uncertainty_type", "loc", "scale", "shape", "minimum", "maximum"}
	technosphereColumns = append(append([]string{}, exchangeColumns...), "reference_product")
)

// ActivityRow represents the database row for a process activity
type ActivityRow struct {
	ID                int64          `db:"id"`
	DatasetMetadataID int64          `db:"datasetmetadata_id"`
	Code              string         `db:"code"`
	Name              string         `db:"name"`
	Unit              string         `db:"unit"`
	Type              string         `db:"type"`
	Comment           sql.NullString `db:"comment"`
	DatabaseOld       string         `db:"database_old"`
	BiosphereVersion  sql.NullString `db:"biosphere_version"`
	Location          string         `db:"location"`
	ReferenceProduct  string         `db:"reference_product"`
}

// ExchangeRow holds the columns shared by both exchange tables. Location is
// nullable on biosphere exchanges only.
type ExchangeRow struct {
	ID              int64           `db:"id"`
	ActivityID      int64           `db:"activity_id"`
	OutputCode      string          `db:"output_code"`
	InputCode       string          `db:"input_code"`
	Name            string          `db:"name"`
	Amount          float64         `db:"amount"`
	Type            string          `db:"type"`
	Unit            string          `db:"unit"`
	Location        sql.NullString  `db:"location"`
	Formula         sql.NullString  `db:"formula"`
	UncertaintyType sql.NullString  `db:"uncertainty_type"`
	Loc             sql.NullFloat64 `db:"loc"`
	Scale           sql.NullFloat64 `db:"scale"`
	Shape           sql.NullFloat64 `db:"shape"`
	Minimum         sql.NullFloat64 `db:"minimum"`
	Maximum         sql.NullFloat64 `db:"maximum"`
}

type TechnosphereRow struct {
	ExchangeRow
	ReferenceProduct string `db:"reference_product"`
}

// exchangeValues lists values in exchangeColumns order, without the id.
func exchangeValues(activityID int64, e models.ExchangeFields, location sql.NullString) []any {
	return []any{
		activityID,
		e.OutputCode,
		e.InputCode,
		e.Name,
		e.Amount,
		e.Type,
		e.Unit,
		location,
		database.NullString(e.Formula),
		database.NullString(e.UncertaintyType),
		database.NullFloat64(e.Loc),
		database.NullFloat64(e.Scale),
		database.NullFloat64(e.Shape),
		database.NullFloat64(e.Minimum),
		database.NullFloat64(e.Maximum),
	}
}

func toExchangeFields(row ExchangeRow, categories []string) models.ExchangeFields {
	if categories == nil {
		categories = []string{}
	}
	return models.ExchangeFields{
		OutputCode: row.OutputCode,
		InputCode:  row.InputCode,
		Name:       row.Name,
		Amount:     row.Amount,
		Type:       row.Type,
		Unit:       row.Unit,
		Formula:    database.FromNullString(row.Formula),
		Categories: categories,
		Uncertainty: models.Uncertainty{
			UncertaintyType: database.FromNullString(row.UncertaintyType),
			Loc:             database.FromNullFloat64(row.Loc),
			Scale:           database.FromNullFloat64(row.Scale),
			Shape:           database.FromNullFloat64(row.Shape),
			Minimum:         database.FromNullFloat64(row.Minimum),
			Maximum:         database.FromNullFloat64(row.Maximum),
		},
	}
}

// ToTechnosphereExchange converts a database row to the read model
func ToTechnosphereExchange(row TechnosphereRow, categories []string) models.TechnosphereExchangeRead {
	return models.TechnosphereExchangeRead{
		ID:         row.ID,
		ActivityID: row.ActivityID,
		TechnosphereExchangeCreate: models.TechnosphereExchangeCreate{
			ExchangeFields:   toExchangeFields(row.ExchangeRow, categories),
			Location:         row.Location.String,
			ReferenceProduct: row.ReferenceProduct,
		},
	}
}

// ToBiosphereExchange converts a database row to the read model
func ToBiosphereExchange(row ExchangeRow, categories []string) models.BiosphereExchangeRead {
	return models.BiosphereExchangeRead{
		ID:         row.ID,
		ActivityID: row.ActivityID,
		BiosphereExchangeCreate: models.BiosphereExchangeCreate{
			ExchangeFields: toExchangeFields(row, categories),
			Location:       database.FromNullString(row.Location),
		},
	}
}

// ToProcessActivity converts a database row to the read model without exchanges
func ToProcessActivity(row ActivityRow) models.ProcessActivityRead {
	return models.ProcessActivityRead{
		ID:                row.ID,
		DatasetMetadataID: row.DatasetMetadataID,
		ActivityFields: models.ActivityFields{
			Code:             row.Code,
			Name:             row.Name,
			Unit:             row.Unit,
			Type:             row.Type,
			Comment:          database.FromNullString(row.Comment),
			DatabaseOld:      row.DatabaseOld,
			BiosphereVersion: database.FromNullString(row.BiosphereVersion),
		},
		Location:              row.Location,
		ReferenceProduct:      row.ReferenceProduct,
		TechnosphereExchanges: []models.TechnosphereExchangeRead{},
		BiosphereExchanges:    []models.BiosphereExchangeRead{},
	}
}

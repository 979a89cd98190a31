package emissionactivity

import (
	"database/sql"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const tableName = "emission_activity"

var activityColumns = []string{"id", "datasetmetadata_id", "code", "name", "unit", "type", "comment", "database_old", "biosphere_version", "location"}

// ActivityRow represents the database row for an emission activity
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
	Location          sql.NullString `db:"location"`
}

// ToEmissionActivity converts a database row and its categories to the read model
func ToEmissionActivity(row ActivityRow, categories []string) models.EmissionActivityRead {
	if categories == nil {
		categories = []string{}
	}
	return models.EmissionActivityRead{
		ID:                row.ID,
		DatasetMetadataID: row.DatasetMetadataID,
		EmissionActivityCreate: models.EmissionActivityCreate{
			ActivityFields: models.ActivityFields{
				Code:             row.Code,
				Name:             row.Name,
				Unit:             row.Unit,
				Type:             row.Type,
				Comment:          database.FromNullString(row.Comment),
				DatabaseOld:      row.DatabaseOld,
				BiosphereVersion: database.FromNullString(row.BiosphereVersion),
			},
			Location:   database.FromNullString(row.Location),
			Categories: categories,
		},
	}
}

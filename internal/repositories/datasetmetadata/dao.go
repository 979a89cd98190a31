package datasetmetadata

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	tableName       = "dataset_metadata"
	keywordTable    = "keyword"
	dependencyTable = "database_dependency"
)

var metadataColumns = []string{"id", "name", "final_date", "description", "version", "user_email_address"}

// MetadataRow represents the database row for a dataset
type MetadataRow struct {
	ID               int64   `db:"id"`
	Name             string  `db:"name"`
	FinalDate        string  `db:"final_date"`
	Description      string  `db:"description"`
	Version          float64 `db:"version"`
	UserEmailAddress string  `db:"user_email_address"`
}

// ChildRow is a keyword or dependency row
type ChildRow struct {
	ID                int64  `db:"id"`
	Name              string `db:"name"`
	DatasetMetadataID int64  `db:"datasetmetadata_id"`
}

// ToDatasetMetadata converts a row and its children to the read model
func ToDatasetMetadata(row MetadataRow, keywords, dependencies []string) models.DatasetMetadataRead {
	if keywords == nil {
		keywords = []string{}
	}
	if dependencies == nil {
		dependencies = []string{}
	}
	return models.DatasetMetadataRead{
		ID: row.ID,
		DatasetMetadataFields: models.DatasetMetadataFields{
			Name:             row.Name,
			FinalDate:        row.FinalDate,
			Description:      row.Description,
			Version:          row.Version,
			UserEmailAddress: row.UserEmailAddress,
		},
		Keywords:     keywords,
		Dependencies: dependencies,
	}
}

package models

// DateLayout is the storage and wire format of DatasetMetadata.FinalDate.
const DateLayout = "2006-01-02"

// DatasetMetadataFields are the user supplied attributes of an exported dataset.
type DatasetMetadataFields struct {
	Name             string  `json:"name" validate:"required"`
	FinalDate        string  `json:"final_date" validate:"required,datetime=2006-01-02"`
	Description      string  `json:"description"`
	Version          float64 `json:"version" validate:"gte=0"`
	UserEmailAddress string  `json:"user_email_address" validate:"omitempty,email"`
}

// DatasetMetadataCreate identifies one dataset to be persisted. Keywords and
// dependencies are written as ordered child rows.
type DatasetMetadataCreate struct {
	DatasetMetadataFields
	Keywords     []string `json:"keywords"`
	Dependencies []string `json:"dependencies"`
}

// DatasetMetadataRead is a persisted dataset with its child rows resolved.
type DatasetMetadataRead struct {
	ID int64 `json:"id"`
	DatasetMetadataFields
	Keywords     []string `json:"keywords"`
	Dependencies []string `json:"dependencies"`
}

// Clone returns a deep copy.
func (m *DatasetMetadataCreate) Clone() *DatasetMetadataCreate {
	out := *m
	out.Keywords = append([]string(nil), m.Keywords...)
	out.Dependencies = append([]string(nil), m.Dependencies...)
	return &out
}

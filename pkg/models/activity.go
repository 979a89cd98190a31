package models

const (
	ActivityTypeProcess  = "process"
	ActivityTypeEmission = "emission"
	ActivityTypeProduct  = "product"

	ExchangeTypeTechnosphere = "technosphere"
	ExchangeTypeProduction   = "production"
	ExchangeTypeBiosphere    = "biosphere"
)

// ActivityFields are shared by process and emission activities.
type ActivityFields struct {
	// Code is the composite <database><code> of the source activity.
	Code             string  `json:"code" validate:"required"`
	Name             string  `json:"name" validate:"required"`
	Unit             string  `json:"unit"`
	Type             string  `json:"type" validate:"required,oneof=process emission"`
	Comment          *string `json:"comment,omitempty"`
	DatabaseOld      string  `json:"database_old"`
	BiosphereVersion *string `json:"biosphere_version,omitempty" validate:"omitempty,oneof=3.8 3.9"`
}

type ProcessActivityCreate struct {
	ActivityFields
	Location              string                       `json:"location"`
	ReferenceProduct      string                       `json:"reference_product"`
	TechnosphereExchanges []TechnosphereExchangeCreate `json:"technosphere_exchanges" validate:"dive"`
	BiosphereExchanges    []BiosphereExchangeCreate    `json:"biosphere_exchanges" validate:"dive"`
}

type ProcessActivityRead struct {
	ID                int64 `json:"id"`
	DatasetMetadataID int64 `json:"datasetmetadata_id"`
	ActivityFields
	Location              string                     `json:"location"`
	ReferenceProduct      string                     `json:"reference_product"`
	TechnosphereExchanges []TechnosphereExchangeRead `json:"technosphere_exchanges"`
	BiosphereExchanges    []BiosphereExchangeRead    `json:"biosphere_exchanges"`
}

type EmissionActivityCreate struct {
	ActivityFields
	Location   *string  `json:"location,omitempty"`
	Categories []string `json:"categories"`
}

type EmissionActivityRead struct {
	ID                int64 `json:"id"`
	DatasetMetadataID int64 `json:"datasetmetadata_id"`
	EmissionActivityCreate
}

// ToCreate drops the keys so a read activity can be persisted again.
func (a ProcessActivityRead) ToCreate() ProcessActivityCreate {
	out := ProcessActivityCreate{
		ActivityFields:        a.ActivityFields,
		Location:              a.Location,
		ReferenceProduct:      a.ReferenceProduct,
		TechnosphereExchanges: make([]TechnosphereExchangeCreate, 0, len(a.TechnosphereExchanges)),
		BiosphereExchanges:    make([]BiosphereExchangeCreate, 0, len(a.BiosphereExchanges)),
	}
	for _, e := range a.TechnosphereExchanges {
		out.TechnosphereExchanges = append(out.TechnosphereExchanges, e.TechnosphereExchangeCreate)
	}
	for _, e := range a.BiosphereExchanges {
		out.BiosphereExchanges = append(out.BiosphereExchanges, e.BiosphereExchangeCreate)
	}
	return out
}

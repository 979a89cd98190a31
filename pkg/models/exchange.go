package models

// Uncertainty is an optional parametric uncertainty descriptor.
type Uncertainty struct {
	UncertaintyType *string  `json:"uncertainty_type,omitempty"`
	Loc             *float64 `json:"loc,omitempty"`
	Scale           *float64 `json:"scale,omitempty"`
	Shape           *float64 `json:"shape,omitempty"`
	Minimum         *float64 `json:"minimum,omitempty"`
	Maximum         *float64 `json:"maximum,omitempty"`
}

// ExchangeFields are shared by technosphere and biosphere exchanges.
// InputCode and OutputCode are opaque until matched on import.
type ExchangeFields struct {
	OutputCode string   `json:"output_code" validate:"required"`
	InputCode  string   `json:"input_code" validate:"required"`
	Name       string   `json:"name"`
	Amount     float64  `json:"amount"`
	Type       string   `json:"type" validate:"required"`
	Unit       string   `json:"unit"`
	Formula    *string  `json:"formula,omitempty"`
	Categories []string `json:"categories"`
	Uncertainty
}

type TechnosphereExchangeCreate struct {
	ExchangeFields
	Location         string `json:"location"`
	ReferenceProduct string `json:"reference_product"`
}

type TechnosphereExchangeRead struct {
	ID         int64 `json:"id"`
	ActivityID int64 `json:"activity_id"`
	TechnosphereExchangeCreate
}

type BiosphereExchangeCreate struct {
	ExchangeFields
	Location *string `json:"location,omitempty"`
}

type BiosphereExchangeRead struct {
	ID         int64 `json:"id"`
	ActivityID int64 `json:"activity_id"`
	BiosphereExchangeCreate
}

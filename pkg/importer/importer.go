// Package importer rehydrates persisted datasets into graph records, links
// their exchanges against a target graph and commits them once every exchange
// resolves.
package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultBiosphereDatabase is the registry biosphere exchanges are linked against.
const DefaultBiosphereDatabase = "biosphere3"

// Store is the read side of the relational store.
type Store interface {
	ReadAllDatasetMetadata(ctx context.Context) ([]models.DatasetMetadataRead, error)
	ReadDatasetMetadata(ctx context.Context, id int64) (*models.DatasetMetadataRead, error)
	ReadProcessActivities(ctx context.Context, datasetID int64) ([]models.ProcessActivityRead, error)
	ReadEmissionActivities(ctx context.Context, datasetID int64) ([]models.EmissionActivityRead, error)
}

type Config struct {
	DatasetName string
	// Destination is the target database name. Defaults to DatasetName.
	Destination string
	// BiosphereDatabase defaults to DefaultBiosphereDatabase.
	BiosphereDatabase string
	// DryRun stops Reconcile at FullyLinked without writing the target.
	DryRun bool
}

type State int

const (
	StateLoaded State = iota
	StateMatching
	StateFullyLinked
	StateCommitted
	StatePartiallyLinked
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateMatching:
		return "matching"
	case StateFullyLinked:
		return "fully_linked"
	case StateCommitted:
		return "committed"
	case StatePartiallyLinked:
		return "partially_linked"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Exchange is an exchange awaiting a link. Input stays nil until a match
// resolves InputCode to an activity.
type Exchange struct {
	Type             string
	InputCode        string
	Name             string
	Unit             string
	Location         string
	ReferenceProduct string
	Categories       []string
	Amount           float64
	Formula          string
	Uncertainty      graph.Uncertainty
	Input            *graph.Key
}

func (e *Exchange) Linked() bool {
	return e.Input != nil
}

// Record is an activity of the imported batch. Activity.Exchanges is unused;
// exchanges are kept in Exchanges with their link state.
type Record struct {
	Activity  graph.Activity
	Exchanges []Exchange
}

type Importer struct {
	cfg          Config
	store        Store
	target       graph.Target
	logger       ectologger.Logger
	metadata     *models.DatasetMetadataRead
	records      []Record
	dependencies []string
	warnings     lcierrors.Warnings
	state        State
}

// New resolves cfg.DatasetName to a single dataset and loads its records.
func New(ctx context.Context, cfg Config, store Store, target graph.Target, logger ectologger.Logger) (*Importer, error) {
	ctx, span := tracing.StartSpan(ctx, "Importer.New")
	defer span.End()

	if cfg.Destination == "" {
		cfg.Destination = cfg.DatasetName
	}
	if cfg.BiosphereDatabase == "" {
		cfg.BiosphereDatabase = DefaultBiosphereDatabase
	}

	i := &Importer{
		cfg:    cfg,
		store:  store,
		target: target,
		logger: logger,
		state:  StateLoaded,
	}

	metadata, err := i.resolveDataset(ctx)
	if err != nil {
		return nil, err
	}
	i.metadata = metadata

	if i.records, err = i.ProcessActivities(ctx, metadata.ID); err != nil {
		return nil, err
	}
	if i.dependencies, err = i.GetDatabaseDependencies(ctx, metadata.ID); err != nil {
		return nil, err
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"dataset":      cfg.DatasetName,
		"version":      metadata.Version,
		"destination":  cfg.Destination,
		"records":      len(i.records),
		"dependencies": i.dependencies,
	}).Info("Loaded dataset for import")

	return i, nil
}

// resolveDataset picks the highest version among datasets named
// cfg.DatasetName. A tie on the highest version is ambiguous.
func (i *Importer) resolveDataset(ctx context.Context) (*models.DatasetMetadataRead, error) {
	all, err := i.store.ReadAllDatasetMetadata(ctx)
	if err != nil {
		return nil, err
	}

	var matches []models.DatasetMetadataRead
	for _, m := range all {
		if m.Name == i.cfg.DatasetName {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return nil, &lcierrors.DatasetNotFoundError{Name: i.cfg.DatasetName}
	case 1:
		return &matches[0], nil
	}

	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Version > matches[b].Version })
	if matches[0].Version == matches[1].Version {
		versions := make([]float64, len(matches))
		for n, m := range matches {
			versions[len(matches)-1-n] = m.Version
		}
		return nil, &lcierrors.AmbiguousDatasetError{Name: i.cfg.DatasetName, Versions: versions}
	}

	i.warn(ctx, lcierrors.NewWarning(lcierrors.MultipleVersionsWarning, i.cfg.Destination, "",
		"dataset %q has %d versions, importing the latest (version %g)", i.cfg.DatasetName, len(matches), matches[0].Version))
	return &matches[0], nil
}

// ProcessActivities converts the persisted rows of datasetID into records in
// the destination database. Exchanges list biosphere before technosphere.
func (i *Importer) ProcessActivities(ctx context.Context, datasetID int64) ([]Record, error) {
	ctx, span := tracing.StartSpan(ctx, "Importer.ProcessActivities")
	defer span.End()

	process, err := i.store.ReadProcessActivities(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	emission, err := i.store.ReadEmissionActivities(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(process)+len(emission))
	for _, row := range process {
		record := Record{Activity: graph.Activity{
			Database:         i.cfg.Destination,
			Code:             row.Code,
			Name:             row.Name,
			Location:         row.Location,
			Unit:             row.Unit,
			ReferenceProduct: row.ReferenceProduct,
			Type:             models.ActivityTypeProcess,
			Comment:          deref(row.Comment),
			Origin:           row.DatabaseOld,
		}}

		for _, e := range row.BiosphereExchanges {
			record.Exchanges = append(record.Exchanges, fromFields(e.ExchangeFields, deref(e.Location), ""))
		}
		for _, e := range row.TechnosphereExchanges {
			record.Exchanges = append(record.Exchanges, fromFields(e.ExchangeFields, e.Location, e.ReferenceProduct))
			if e.Type == models.ExchangeTypeProduction && e.InputCode == row.Code && len(e.Categories) > 0 {
				record.Activity.Categories = append([]string{}, e.Categories...)
			}
		}
		records = append(records, record)
	}

	for _, row := range emission {
		var categories []string
		if len(row.Categories) > 0 {
			categories = append(categories, row.Categories...)
		}
		records = append(records, Record{Activity: graph.Activity{
			Database:   i.cfg.Destination,
			Code:       row.Code,
			Name:       row.Name,
			Location:   deref(row.Location),
			Unit:       row.Unit,
			Type:       models.ActivityTypeEmission,
			Comment:    deref(row.Comment),
			Categories: categories,
			Origin:     row.DatabaseOld,
		}})
	}

	return records, nil
}

func fromFields(f models.ExchangeFields, location, referenceProduct string) Exchange {
	var categories []string
	if len(f.Categories) > 0 {
		categories = append(categories, f.Categories...)
	}
	return Exchange{
		Type:             f.Type,
		InputCode:        f.InputCode,
		Name:             f.Name,
		Unit:             f.Unit,
		Location:         location,
		ReferenceProduct: referenceProduct,
		Categories:       categories,
		Amount:           f.Amount,
		Formula:          deref(f.Formula),
		Uncertainty: graph.Uncertainty{
			Type:    deref(f.UncertaintyType),
			Loc:     f.Loc,
			Scale:   f.Scale,
			Shape:   f.Shape,
			Minimum: f.Minimum,
			Maximum: f.Maximum,
		},
	}
}

func (i *Importer) GetDatabaseDependencies(ctx context.Context, datasetID int64) ([]string, error) {
	metadata, err := i.store.ReadDatasetMetadata(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, metadata.Dependencies...), nil
}

// CheckImportedData warns about dependencies missing from the target and
// fails when the destination database already exists.
func (i *Importer) CheckImportedData(ctx context.Context) ([]lcierrors.Warning, error) {
	ctx, span := tracing.StartSpan(ctx, "Importer.CheckImportedData")
	defer span.End()

	var warnings lcierrors.Warnings
	for _, dependency := range i.dependencies {
		ok, err := i.target.HasDatabase(ctx, dependency)
		if err != nil {
			return nil, err
		}
		if !ok {
			w := lcierrors.NewWarning(lcierrors.MissingDependencyWarning, dependency, "",
				"dependency %q of dataset %q is not in the target graph", dependency, i.cfg.DatasetName)
			i.warn(ctx, w)
			warnings.Add(w)
		}
	}

	exists, err := i.target.HasDatabase(ctx, i.cfg.Destination)
	if err != nil {
		return nil, err
	}
	if exists {
		return warnings, &lcierrors.DatabaseExistsError{Name: i.cfg.Destination}
	}
	return warnings, nil
}

func (i *Importer) warn(ctx context.Context, w lcierrors.Warning) {
	i.warnings.Add(w)
	i.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":     string(w.Kind),
		"database": w.Database,
		"code":     w.Code,
	}).Warn(w.Message)
}

func (i *Importer) Metadata() *models.DatasetMetadataRead {
	return i.metadata
}

func (i *Importer) Destination() string {
	return i.cfg.Destination
}

func (i *Importer) Dependencies() []string {
	return append([]string{}, i.dependencies...)
}

func (i *Importer) Records() []Record {
	return i.records
}

func (i *Importer) State() State {
	return i.state
}

// Warnings returns every warning collected since New.
func (i *Importer) Warnings() []lcierrors.Warning {
	return append([]lcierrors.Warning{}, i.warnings...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

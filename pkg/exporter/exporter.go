// Package exporter flattens graph databases into relational dataset records.
package exporter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store is the relational store datasets are exported to.
type Store interface {
	ReadAllDatasetMetadata(ctx context.Context) ([]models.DatasetMetadataRead, error)
	ExportDataset(ctx context.Context, metadata *models.DatasetMetadataCreate, process []models.ProcessActivityCreate, emission []models.EmissionActivityCreate) (int64, error)
}

type Config struct {
	// Databases are the source databases exported together as one dataset.
	Databases        []string `validate:"required,min=1,dive,required"`
	BiosphereVersion string   `validate:"omitempty,oneof=3.8 3.9"`
	// BiosphereDatabase defaults to importer.DefaultBiosphereDatabase.
	BiosphereDatabase string
}

type Exporter struct {
	cfg         Config
	source      graph.Source
	store       Store
	openScratch ScratchOpener
	logger      ectologger.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithScratchOpener replaces the store the completeness check round-trips
// through. The default is an in-memory store per check.
func WithScratchOpener(open ScratchOpener) Option {
	return func(e *Exporter) {
		e.openScratch = open
	}
}

// Extraction holds the flattened records of one or more databases.
type Extraction struct {
	ProcessActivities  []models.ProcessActivityCreate
	EmissionActivities []models.EmissionActivityCreate
	Warnings           []lcierrors.Warning
}

func New(cfg Config, source graph.Source, store Store, logger ectologger.Logger, opts ...Option) (*Exporter, error) {
	if err := models.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.BiosphereDatabase == "" {
		cfg.BiosphereDatabase = importer.DefaultBiosphereDatabase
	}
	e := &Exporter{
		cfg:         cfg,
		source:      source,
		store:       store,
		openScratch: openScratch,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Exporter) Databases() []string {
	return append([]string{}, e.cfg.Databases...)
}

// ExtractLCIData flattens databases, or the configured databases when none
// are given. Any error aborts the whole extraction.
func (e *Exporter) ExtractLCIData(ctx context.Context, databases ...string) (*Extraction, error) {
	ctx, span := tracing.StartSpan(ctx, "Exporter.ExtractLCIData")
	defer span.End()

	if len(databases) == 0 {
		databases = e.cfg.Databases
	}

	extraction, err := e.extract(ctx, e.source, databases)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("databases", databases).Error("Failed to extract LCI data")
		return nil, err
	}
	for _, w := range extraction.Warnings {
		e.logWarning(ctx, w)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"databases": databases,
		"process":   len(extraction.ProcessActivities),
		"emission":  len(extraction.EmissionActivities),
		"warnings":  len(extraction.Warnings),
	}).Info("Extracted LCI data")

	return extraction, nil
}

type resolver struct {
	source graph.Source
	cache  map[graph.Key]*graph.Activity
}

func (r *resolver) activity(ctx context.Context, key graph.Key) (*graph.Activity, error) {
	if a, ok := r.cache[key]; ok {
		return a, nil
	}
	a, err := r.source.Activity(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity %s: %w", key, err)
	}
	if a == nil {
		return nil, &lcierrors.NotFoundError{Entity: "activity", Key: key.String()}
	}
	r.cache[key] = a
	return a, nil
}

func (e *Exporter) extract(ctx context.Context, source graph.Source, databases []string) (*Extraction, error) {
	exported := make(map[string]bool, len(databases))
	byDatabase := make(map[string][]graph.Activity, len(databases))
	r := &resolver{source: source, cache: map[graph.Key]*graph.Activity{}}

	for _, name := range databases {
		exported[name] = true
		activities, err := source.Activities(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read activities of %s: %w", name, err)
		}
		byDatabase[name] = activities
		for n := range activities {
			r.cache[activities[n].Key()] = &activities[n]
		}
	}

	extraction := &Extraction{
		ProcessActivities:  []models.ProcessActivityCreate{},
		EmissionActivities: []models.EmissionActivityCreate{},
	}
	var warnings lcierrors.Warnings

	for _, name := range databases {
		for n := range byDatabase[name] {
			act := &byDatabase[name][n]
			if len(act.Extra) > 0 {
				warnings.Add(lcierrors.NewWarning(lcierrors.IncompleteExportWarning, act.Database, act.Code,
					"activity %s in %s has attributes that are not exported: %s", act.Code, act.Database, strings.Join(sortedKeys(act.Extra), ", ")))
			}

			switch act.Type {
			case models.ActivityTypeProcess, "":
				process, w, err := e.processActivity(ctx, r, exported, act)
				if err != nil {
					return nil, err
				}
				warnings.Add(w...)
				extraction.ProcessActivities = append(extraction.ProcessActivities, *process)
			case models.ActivityTypeEmission:
				warnings.Add(droppedEmissionFields(act)...)
				extraction.EmissionActivities = append(extraction.EmissionActivities, e.emissionActivity(act))
			case models.ActivityTypeProduct:
				return nil, &lcierrors.UnsupportedTypeError{Database: act.Database, Code: act.Code, Type: act.Type}
			default:
				return nil, &lcierrors.UnknownTypeError{Database: act.Database, Code: act.Code, Type: act.Type}
			}
		}
	}

	extraction.Warnings = warnings
	return extraction, nil
}

func (e *Exporter) activityFields(act *graph.Activity, typ string) models.ActivityFields {
	databaseOld := act.Origin
	if databaseOld == "" {
		databaseOld = act.Database
	}
	return models.ActivityFields{
		Code:             act.Database + act.Code,
		Name:             act.Name,
		Unit:             act.Unit,
		Type:             typ,
		Comment:          optional(act.Comment),
		DatabaseOld:      databaseOld,
		BiosphereVersion: optional(e.cfg.BiosphereVersion),
	}
}

func (e *Exporter) processActivity(ctx context.Context, r *resolver, exported map[string]bool, act *graph.Activity) (*models.ProcessActivityCreate, []lcierrors.Warning, error) {
	process := &models.ProcessActivityCreate{
		ActivityFields:        e.activityFields(act, models.ActivityTypeProcess),
		Location:              act.Location,
		ReferenceProduct:      act.ReferenceProduct,
		TechnosphereExchanges: []models.TechnosphereExchangeCreate{},
		BiosphereExchanges:    []models.BiosphereExchangeCreate{},
	}
	var warnings []lcierrors.Warning
	selfProduction := false

	for _, exc := range act.Exchanges {
		switch exc.Type {
		case models.ExchangeTypeTechnosphere, models.ExchangeTypeProduction, models.ExchangeTypeBiosphere:
		default:
			return nil, nil, &lcierrors.UnknownTypeError{Database: act.Database, Code: act.Code, Type: exc.Type, Input: exc.Input.String()}
		}

		input, err := r.activity(ctx, exc.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("exchange of %s in %s: %w", act.Code, act.Database, err)
		}
		if exc.Type == models.ExchangeTypeProduction && input.Key() == act.Key() {
			selfProduction = true
		}
		if len(exc.Extra) > 0 {
			warnings = append(warnings, lcierrors.NewWarning(lcierrors.IncompleteExportWarning, act.Database, act.Code,
				"exchange from %s to %s has attributes that are not exported: %s", exc.Input, act.Key(), strings.Join(sortedKeys(exc.Extra), ", ")))
		}

		fields := models.ExchangeFields{
			OutputCode: act.Database + act.Code,
			Name:       input.Name,
			Amount:     exc.Amount,
			Type:       exc.Type,
			Unit:       input.Unit,
			Formula:    optional(exc.Formula),
			Categories: append([]string{}, input.Categories...),
			Uncertainty: models.Uncertainty{
				UncertaintyType: optional(exc.Uncertainty.Type),
				Loc:             exc.Uncertainty.Loc,
				Scale:           exc.Uncertainty.Scale,
				Shape:           exc.Uncertainty.Shape,
				Minimum:         exc.Uncertainty.Minimum,
				Maximum:         exc.Uncertainty.Maximum,
			},
		}

		if exc.Type == models.ExchangeTypeBiosphere {
			// Registry flows keep their own code so they link on import.
			fields.InputCode = input.Code
			if exported[input.Database] {
				fields.InputCode = input.Database + input.Code
			}
			process.BiosphereExchanges = append(process.BiosphereExchanges, models.BiosphereExchangeCreate{
				ExchangeFields: fields,
				Location:       optional(input.Location),
			})
			continue
		}

		fields.InputCode = input.Database + input.Code
		process.TechnosphereExchanges = append(process.TechnosphereExchanges, models.TechnosphereExchangeCreate{
			ExchangeFields:   fields,
			Location:         input.Location,
			ReferenceProduct: input.ReferenceProduct,
		})
	}

	// Process categories only travel on the self-production exchange.
	if len(act.Categories) > 0 && !selfProduction {
		warnings = append(warnings, lcierrors.NewWarning(lcierrors.IncompleteExportWarning, act.Database, act.Code,
			"process %s in %s has categories %s but no production exchange to carry them", act.Code, act.Database, strings.Join(act.Categories, ", ")))
	}

	return process, warnings, nil
}

// droppedEmissionFields warns about emission attributes the emission table
// has no column for.
func droppedEmissionFields(act *graph.Activity) []lcierrors.Warning {
	var dropped []string
	if act.ReferenceProduct != "" {
		dropped = append(dropped, "reference_product")
	}
	if len(act.Exchanges) > 0 {
		dropped = append(dropped, fmt.Sprintf("%d exchanges", len(act.Exchanges)))
	}
	if len(dropped) == 0 {
		return nil
	}
	return []lcierrors.Warning{lcierrors.NewWarning(lcierrors.IncompleteExportWarning, act.Database, act.Code,
		"emission %s in %s has attributes that are not exported: %s", act.Code, act.Database, strings.Join(dropped, ", "))}
}

func (e *Exporter) emissionActivity(act *graph.Activity) models.EmissionActivityCreate {
	return models.EmissionActivityCreate{
		ActivityFields: e.activityFields(act, models.ActivityTypeEmission),
		Location:       optional(act.Location),
		Categories:     append([]string{}, act.Categories...),
	}
}

// CheckBackgroundDatabaseDependency lists the databases the exported
// databases depend on that are not exported themselves, in first-seen order.
func (e *Exporter) CheckBackgroundDatabaseDependency(ctx context.Context) ([]string, error) {
	exported := make(map[string]bool, len(e.cfg.Databases))
	for _, name := range e.cfg.Databases {
		exported[name] = true
	}

	seen := map[string]bool{}
	background := []string{}
	for _, name := range e.cfg.Databases {
		depends, err := e.source.DatabaseDependencies(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, dependency := range depends {
			if exported[dependency] || seen[dependency] {
				continue
			}
			seen[dependency] = true
			background = append(background, dependency)
		}
	}

	e.logger.WithContext(ctx).WithField("dependencies", background).Info("Exported databases depend on background databases")
	return background, nil
}

// MetadataInput is the user supplied part of a dataset's metadata.
type MetadataInput struct {
	Name             string
	FinalDate        string
	Description      string
	UserEmailAddress string
	Keywords         []string
}

// CreateMetadata builds validated metadata with the next free version and the
// background dependencies of the exported databases.
func (e *Exporter) CreateMetadata(ctx context.Context, input MetadataInput) (*models.DatasetMetadataCreate, []lcierrors.Warning, error) {
	ctx, span := tracing.StartSpan(ctx, "Exporter.CreateMetadata")
	defer span.End()

	version, warnings, err := e.CreateVersion(ctx, input.Name)
	if err != nil {
		return nil, nil, err
	}
	dependencies, err := e.CheckBackgroundDatabaseDependency(ctx)
	if err != nil {
		return nil, nil, err
	}

	keywords := append([]string{}, input.Keywords...)
	metadata := &models.DatasetMetadataCreate{
		DatasetMetadataFields: models.DatasetMetadataFields{
			Name:             input.Name,
			FinalDate:        input.FinalDate,
			Description:      input.Description,
			Version:          version,
			UserEmailAddress: input.UserEmailAddress,
		},
		Keywords:     keywords,
		Dependencies: dependencies,
	}
	if err := models.Validate(metadata); err != nil {
		return nil, nil, err
	}

	if len(e.cfg.Databases) > 1 {
		w := lcierrors.NewWarning(lcierrors.MultipleDatabasesWarning, "", "",
			"databases %s are exported as one dataset %q", strings.Join(e.cfg.Databases, ", "), input.Name)
		e.logWarning(ctx, w)
		warnings = append(warnings, w)
	}
	return metadata, warnings, nil
}

// CreateVersion returns 0 for a new dataset name, otherwise one more than the
// highest stored version together with a DuplicateVersionWarning.
func (e *Exporter) CreateVersion(ctx context.Context, name string) (float64, []lcierrors.Warning, error) {
	all, err := e.store.ReadAllDatasetMetadata(ctx)
	if err != nil {
		return 0, nil, err
	}

	found := false
	highest := 0.0
	for _, m := range all {
		if m.Name != name {
			continue
		}
		if !found || m.Version > highest {
			highest = m.Version
		}
		found = true
	}
	if !found {
		return 0, nil, nil
	}

	version := highest + 1
	w := lcierrors.NewWarning(lcierrors.DuplicateVersionWarning, "", "",
		"dataset %q already exists, it will be saved with version %g", name, version)
	e.logWarning(ctx, w)
	return version, []lcierrors.Warning{w}, nil
}

// ExportToSQL validates and writes the dataset in one transaction.
func (e *Exporter) ExportToSQL(ctx context.Context, process []models.ProcessActivityCreate, metadata *models.DatasetMetadataCreate, emission []models.EmissionActivityCreate) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Exporter.ExportToSQL")
	defer span.End()

	if err := models.Validate(metadata); err != nil {
		return 0, err
	}
	for _, activity := range process {
		if err := models.Validate(activity); err != nil {
			return 0, err
		}
	}
	for _, activity := range emission {
		if err := models.Validate(activity); err != nil {
			return 0, err
		}
	}

	id, err := e.store.ExportDataset(ctx, metadata, process, emission)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("dataset", metadata.Name).Error("Failed to export dataset")
		return 0, err
	}
	return id, nil
}

func (e *Exporter) logWarning(ctx context.Context, w lcierrors.Warning) {
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":     string(w.Kind),
		"database": w.Database,
		"code":     w.Code,
	}).Warn(w.Message)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

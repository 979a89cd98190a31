// Package pipeline runs the export and import flows shared by the CLI and the
// HTTP API.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	reqctx "github.com/Ramsey-B/fern/pkg/context"
	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store is the relational store both flows run against.
type Store interface {
	exporter.Store
	importer.Store
	DeleteDatasetMetadata(ctx context.Context, id int64) error
}

// Locker serializes imports into one destination. *redis.Locker implements it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Emitter publishes dataset lifecycle events. *events.Emitter implements it.
type Emitter interface {
	EmitDatasetExported(ctx context.Context, id int64, name string, version float64) error
	EmitDatasetImported(ctx context.Context, id int64, name string, version float64, destination string) error
	EmitDatasetUnresolved(ctx context.Context, id int64, name string, version float64, destination string, statistics map[string]int) error
}

type Options struct {
	BiosphereDatabase string
	BiosphereVersion  string
	// Locker and Emitter are optional.
	Locker  Locker
	Emitter Emitter
	LockTTL time.Duration
}

type Service struct {
	store  Store
	graph  graph.Graph
	opts   Options
	logger ectologger.Logger
}

func NewService(store Store, g graph.Graph, opts Options, logger ectologger.Logger) *Service {
	if opts.BiosphereDatabase == "" {
		opts.BiosphereDatabase = importer.DefaultBiosphereDatabase
	}
	if opts.LockTTL == 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Service{
		store:  store,
		graph:  g,
		opts:   opts,
		logger: logger,
	}
}

type ExportRequest struct {
	Databases        []string `json:"databases" validate:"required,min=1,dive,required"`
	Name             string   `json:"name" validate:"required"`
	FinalDate        string   `json:"final_date" validate:"required,datetime=2006-01-02"`
	Description      string   `json:"description"`
	UserEmailAddress string   `json:"user_email_address" validate:"omitempty,email"`
	Keywords         []string `json:"keywords"`
	// SkipCompletenessCheck bypasses the round trip through a scratch store.
	SkipCompletenessCheck bool `json:"skip_completeness_check"`
}

type ExportResult struct {
	DatasetID          int64               `json:"dataset_id"`
	Name               string              `json:"name"`
	Version            float64             `json:"version"`
	Dependencies       []string            `json:"dependencies"`
	ProcessActivities  int                 `json:"process_activities"`
	EmissionActivities int                 `json:"emission_activities"`
	Warnings           []lcierrors.Warning `json:"warnings"`
}

// Export extracts the requested databases, checks that they survive a round
// trip and writes them as a new dataset version.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Export", attribute.String("dataset", req.Name))
	defer span.End()

	start := time.Now()
	result, err := s.export(ctx, req)
	if err != nil {
		metrics.RecordExport("error", time.Since(start), 0, 0)
		return nil, tracing.Fail(span, err)
	}
	metrics.RecordExport("success", time.Since(start), result.ProcessActivities, result.EmissionActivities)
	recordWarnings(result.Warnings)
	return result, nil
}

func (s *Service) export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}

	exp, err := exporter.New(exporter.Config{
		Databases:         req.Databases,
		BiosphereVersion:  s.opts.BiosphereVersion,
		BiosphereDatabase: s.opts.BiosphereDatabase,
	}, s.graph, s.store, s.logger)
	if err != nil {
		return nil, err
	}

	extraction, err := exp.ExtractLCIData(ctx)
	if err != nil {
		return nil, err
	}
	warnings := lcierrors.Warnings(extraction.Warnings)

	metadata, metadataWarnings, err := exp.CreateMetadata(ctx, exporter.MetadataInput{
		Name:             req.Name,
		FinalDate:        req.FinalDate,
		Description:      req.Description,
		UserEmailAddress: req.UserEmailAddress,
		Keywords:         req.Keywords,
	})
	if err != nil {
		return nil, err
	}
	warnings.Add(metadataWarnings...)

	if !req.SkipCompletenessCheck {
		completenessWarnings, err := exp.CheckActivitiesCompleteness(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
		if err != nil {
			return nil, err
		}
		warnings.Add(completenessWarnings...)
	}

	id, err := exp.ExportToSQL(ctx, extraction.ProcessActivities, metadata, extraction.EmissionActivities)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, func(e Emitter) error {
		return e.EmitDatasetExported(ctx, id, metadata.Name, metadata.Version)
	})

	s.logger.WithContext(ctx).WithFields(reqctx.Fields(ctx)).WithFields(map[string]any{
		"dataset_id": id,
		"dataset":    metadata.Name,
		"version":    metadata.Version,
		"warnings":   len(warnings),
	}).Info("Dataset exported")

	return &ExportResult{
		DatasetID:          id,
		Name:               metadata.Name,
		Version:            metadata.Version,
		Dependencies:       metadata.Dependencies,
		ProcessActivities:  len(extraction.ProcessActivities),
		EmissionActivities: len(extraction.EmissionActivities),
		Warnings:           nonNil(warnings),
	}, nil
}

type ImportRequest struct {
	DatasetName string `json:"dataset_name" validate:"required"`
	// Destination defaults to DatasetName.
	Destination string `json:"destination"`
	DryRun      bool   `json:"dry_run"`
}

type ImportResult struct {
	DatasetID    int64               `json:"dataset_id"`
	DatasetName  string              `json:"dataset_name"`
	Version      float64             `json:"version"`
	Destination  string              `json:"destination"`
	State        string              `json:"state"`
	Dependencies []string            `json:"dependencies"`
	Activities   int                 `json:"activities"`
	Statistics   map[string]int      `json:"statistics,omitempty"`
	Warnings     []lcierrors.Warning `json:"warnings"`
}

// Import links the latest version of a dataset into the target graph under
// the destination's import lock. On a matching failure both the result, with
// its unlinked statistics, and the error are returned.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Import", attribute.String("dataset", req.DatasetName))
	defer span.End()

	if err := models.Validate(req); err != nil {
		return nil, err
	}
	if req.Destination == "" {
		req.Destination = req.DatasetName
	}

	start := time.Now()
	var result *ImportResult
	run := func(ctx context.Context) error {
		var err error
		result, err = s.runImport(ctx, req)
		return err
	}

	var err error
	if s.opts.Locker != nil {
		err = s.opts.Locker.WithLock(ctx, "import:"+req.Destination, s.opts.LockTTL, run)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			err = &lcierrors.ImportInProgressError{Destination: req.Destination}
		}
	} else {
		err = run(ctx)
	}

	state := "error"
	var statistics map[string]int
	if result != nil {
		state = result.State
		statistics = result.Statistics
		recordWarnings(result.Warnings)
	}
	metrics.RecordImport(state, time.Since(start), statistics)

	return result, tracing.Fail(span, err)
}

func (s *Service) runImport(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	imp, err := importer.New(ctx, importer.Config{
		DatasetName:       req.DatasetName,
		Destination:       req.Destination,
		BiosphereDatabase: s.opts.BiosphereDatabase,
		DryRun:            req.DryRun,
	}, s.store, s.graph, s.logger)
	if err != nil {
		return nil, err
	}

	if _, err := imp.CheckImportedData(ctx); err != nil {
		var exists *lcierrors.DatabaseExistsError
		if !req.DryRun || !errors.As(err, &exists) {
			return nil, err
		}
	}

	metadata := imp.Metadata()
	result := &ImportResult{
		DatasetID:    metadata.ID,
		DatasetName:  metadata.Name,
		Version:      metadata.Version,
		Destination:  imp.Destination(),
		Dependencies: imp.Dependencies(),
		Activities:   len(imp.Records()),
	}

	err = imp.Reconcile(ctx)
	result.State = imp.State().String()
	result.Warnings = nonNil(imp.Warnings())

	if lcierrors.IsUnresolved(err) {
		result.Statistics = lcierrors.Statistics(err)
		s.emit(ctx, func(e Emitter) error {
			return e.EmitDatasetUnresolved(ctx, metadata.ID, metadata.Name, metadata.Version, result.Destination, result.Statistics)
		})
		return result, err
	}
	if err != nil {
		return nil, err
	}

	if imp.State() == importer.StateCommitted {
		s.emit(ctx, func(e Emitter) error {
			return e.EmitDatasetImported(ctx, metadata.ID, metadata.Name, metadata.Version, result.Destination)
		})
	}

	s.logger.WithContext(ctx).WithFields(reqctx.Fields(ctx)).WithFields(map[string]any{
		"dataset":     metadata.Name,
		"version":     metadata.Version,
		"destination": result.Destination,
		"state":       result.State,
	}).Info("Dataset imported")

	return result, nil
}

// WriteUnlinked matches the latest version of datasetName without writing
// the target and writes the exchanges left unlinked as CSV.
func (s *Service) WriteUnlinked(ctx context.Context, datasetName string, w io.Writer) error {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.WriteUnlinked")
	defer span.End()

	imp, err := importer.New(ctx, importer.Config{
		DatasetName:       datasetName,
		BiosphereDatabase: s.opts.BiosphereDatabase,
		DryRun:            true,
	}, s.store, s.graph, s.logger)
	if err != nil {
		return err
	}

	if err := imp.Reconcile(ctx); err != nil && !lcierrors.IsUnresolved(err) {
		return err
	}
	return imp.WriteUnlinked(w)
}

func (s *Service) ListDatasets(ctx context.Context) ([]models.DatasetMetadataRead, error) {
	datasets, err := s.store.ReadAllDatasetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if datasets == nil {
		datasets = []models.DatasetMetadataRead{}
	}
	return datasets, nil
}

func (s *Service) GetDataset(ctx context.Context, id int64) (*models.DatasetMetadataRead, error) {
	return s.store.ReadDatasetMetadata(ctx, id)
}

func (s *Service) DeleteDataset(ctx context.Context, id int64) error {
	if err := s.store.DeleteDatasetMetadata(ctx, id); err != nil {
		return err
	}
	s.logger.WithContext(ctx).WithField("dataset_id", id).Info("Dataset deleted")
	return nil
}

// emit publishes an event. Failures are logged; the flow already succeeded.
func (s *Service) emit(ctx context.Context, fn func(Emitter) error) {
	if s.opts.Emitter == nil {
		return
	}
	if err := fn(s.opts.Emitter); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish dataset event")
	}
}

func recordWarnings(warnings []lcierrors.Warning) {
	for _, w := range warnings {
		metrics.RecordWarning(string(w.Kind))
	}
}

func nonNil(warnings []lcierrors.Warning) []lcierrors.Warning {
	if warnings == nil {
		return []lcierrors.Warning{}
	}
	return warnings
}

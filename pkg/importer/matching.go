package importer

import (
	"context"
	"fmt"
	"strings"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Fields usable in MatchDatabase.
const (
	FieldCode             = "code"
	FieldName             = "name"
	FieldLocation         = "location"
	FieldUnit             = "unit"
	FieldReferenceProduct = "reference product"
)

// LinkFields are the fields technosphere exchanges are linked on across databases.
var LinkFields = []string{FieldReferenceProduct, FieldUnit, FieldLocation, FieldName}

func exchangeValue(e *Exchange, field string) string {
	switch field {
	case FieldCode:
		return e.InputCode
	case FieldName:
		return e.Name
	case FieldLocation:
		return e.Location
	case FieldUnit:
		return e.Unit
	case FieldReferenceProduct:
		return e.ReferenceProduct
	}
	return ""
}

func activityValue(a *graph.Activity, field string) string {
	switch field {
	case FieldCode:
		return a.Code
	case FieldName:
		return a.Name
	case FieldLocation:
		return a.Location
	case FieldUnit:
		return a.Unit
	case FieldReferenceProduct:
		return a.ReferenceProduct
	}
	return ""
}

func matchKey(fields []string, value func(string) string) string {
	values := make([]string, len(fields))
	for n, field := range fields {
		values[n] = value(field)
	}
	return strings.Join(values, "\x1f")
}

func validateFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("no match fields given")
	}
	for _, field := range fields {
		switch field {
		case FieldCode, FieldName, FieldLocation, FieldUnit, FieldReferenceProduct:
		default:
			return fmt.Errorf("unknown match field %q", field)
		}
	}
	return nil
}

// MatchDatabase links the unlinked exchanges of kind whose fields equal those
// of an activity in candidate. An empty candidate matches within the imported
// batch. The first candidate activity wins when several match. Linked
// exchanges are left alone, so repeated calls are no-ops.
func (i *Importer) MatchDatabase(ctx context.Context, candidate string, fields []string, kind string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Importer.MatchDatabase")
	defer span.End()

	if err := validateFields(fields); err != nil {
		return 0, err
	}
	if i.state == StateLoaded {
		i.state = StateMatching
	}

	var activities []graph.Activity
	if candidate == "" {
		activities = make([]graph.Activity, len(i.records))
		for n := range i.records {
			activities[n] = i.records[n].Activity
		}
	} else {
		var err error
		if activities, err = i.target.Activities(ctx, candidate); err != nil {
			return 0, fmt.Errorf("failed to read candidate database %s: %w", candidate, err)
		}
	}

	index := make(map[string]graph.Key, len(activities))
	for n := range activities {
		a := &activities[n]
		key := matchKey(fields, func(field string) string { return activityValue(a, field) })
		if _, ok := index[key]; !ok {
			index[key] = a.Key()
		}
	}

	linked := 0
	for r := range i.records {
		for x := range i.records[r].Exchanges {
			e := &i.records[r].Exchanges[x]
			if e.Linked() || e.Type != kind {
				continue
			}
			if input, ok := index[matchKey(fields, func(field string) string { return exchangeValue(e, field) })]; ok {
				e.Input = &input
				linked++
			}
		}
	}

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate": candidate,
		"fields":    fields,
		"kind":      kind,
		"linked":    linked,
	}).Debug("Matched exchanges")

	return linked, nil
}

// MatchingStatistics counts the distinct unlinked exchanges per kind. Two
// exchanges are the same when their input fingerprints are equal.
func (i *Importer) MatchingStatistics() map[string]int {
	unique := map[string]map[string]struct{}{}
	for r := range i.records {
		for x := range i.records[r].Exchanges {
			e := &i.records[r].Exchanges[x]
			if e.Linked() {
				continue
			}
			if unique[e.Type] == nil {
				unique[e.Type] = map[string]struct{}{}
			}
			unique[e.Type][exchangeHash(e)] = struct{}{}
		}
	}

	stats := make(map[string]int, len(unique))
	for kind, hashes := range unique {
		stats[kind] = len(hashes)
	}
	return stats
}

func exchangeHash(e *Exchange) string {
	categories := e.Categories
	if categories == nil {
		categories = []string{}
	}
	return fingerprint.ActivityHash(map[string]any{
		"code":              e.InputCode,
		"name":              e.Name,
		"categories":        categories,
		"unit":              e.Unit,
		"location":          e.Location,
		"reference product": e.ReferenceProduct,
	})
}

func total(stats map[string]int) int {
	n := 0
	for _, count := range stats {
		n += count
	}
	return n
}

// Reconcile links the batch and commits it when nothing is left unlinked.
// Production exchanges must link within the batch and biosphere exchanges
// within the batch or the biosphere registry; technosphere exchanges may also
// link against any declared dependency.
func (i *Importer) Reconcile(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "Importer.Reconcile")
	defer span.End()

	if i.state == StateCommitted {
		return nil
	}

	log := i.logger.WithContext(ctx).WithFields(map[string]any{
		"dataset":     i.cfg.DatasetName,
		"destination": i.cfg.Destination,
	})

	if _, err := i.MatchDatabase(ctx, "", []string{FieldCode}, models.ExchangeTypeProduction); err != nil {
		return err
	}
	if stats := i.MatchingStatistics(); stats[models.ExchangeTypeProduction] > 0 {
		i.state = StatePartiallyLinked
		return &lcierrors.UnlinkedProductionError{Dataset: i.cfg.DatasetName, Statistics: stats}
	}

	if _, err := i.MatchDatabase(ctx, "", []string{FieldCode}, models.ExchangeTypeTechnosphere); err != nil {
		return err
	}
	for _, dependency := range i.dependencies {
		if dependency == i.cfg.BiosphereDatabase {
			continue
		}
		if _, err := i.MatchDatabase(ctx, dependency, LinkFields, models.ExchangeTypeTechnosphere); err != nil {
			return err
		}
	}

	if _, err := i.MatchDatabase(ctx, "", []string{FieldName}, models.ExchangeTypeBiosphere); err != nil {
		return err
	}
	if _, err := i.MatchDatabase(ctx, i.cfg.BiosphereDatabase, []string{FieldCode}, models.ExchangeTypeBiosphere); err != nil {
		return err
	}
	if stats := i.MatchingStatistics(); stats[models.ExchangeTypeBiosphere] > 0 {
		i.state = StatePartiallyLinked
		return &lcierrors.UnlinkedBiosphereError{Dataset: i.cfg.DatasetName, Statistics: stats}
	}

	stats := i.MatchingStatistics()
	if total(stats) > 0 {
		i.state = StatePartiallyLinked
		log.WithField("statistics", stats).Warn("Dataset has unresolved exchanges")
		return &lcierrors.UnresolvedExchangesError{Dataset: i.cfg.DatasetName, Statistics: stats}
	}

	i.state = StateFullyLinked
	if i.cfg.DryRun {
		log.Info("Dataset fully linked, dry run leaves target untouched")
		return nil
	}
	return i.commit(ctx)
}

func (i *Importer) commit(ctx context.Context) error {
	exists, err := i.target.HasDatabase(ctx, i.cfg.Destination)
	if err != nil {
		return err
	}
	if exists {
		return &lcierrors.DatabaseExistsError{Name: i.cfg.Destination}
	}

	activities := make([]graph.Activity, len(i.records))
	for r := range i.records {
		record := &i.records[r]
		activity := record.Activity.Clone()
		activity.Exchanges = make([]graph.Exchange, 0, len(record.Exchanges))
		for _, e := range record.Exchanges {
			activity.Exchanges = append(activity.Exchanges, graph.Exchange{
				Type:        e.Type,
				Amount:      e.Amount,
				Formula:     e.Formula,
				Uncertainty: e.Uncertainty,
				Input:       *e.Input,
				Output:      activity.Key(),
			})
		}
		if len(activity.Exchanges) == 0 {
			activity.Exchanges = nil
		}
		activities[r] = activity
	}

	if err := i.target.WriteDatabase(ctx, i.cfg.Destination, i.dependencies, activities); err != nil {
		i.logger.WithContext(ctx).WithError(err).WithField("destination", i.cfg.Destination).Error("Failed to commit dataset")
		return err
	}

	i.state = StateCommitted
	i.logger.WithContext(ctx).WithFields(map[string]any{
		"destination": i.cfg.Destination,
		"activities":  len(activities),
	}).Info("Committed dataset to target graph")
	return nil
}

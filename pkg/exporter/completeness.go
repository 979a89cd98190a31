package exporter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/persistence"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ScratchStore is the throwaway store a completeness check exports to and
// imports from.
type ScratchStore interface {
	importer.Store
	ExportDataset(ctx context.Context, metadata *models.DatasetMetadataCreate, process []models.ProcessActivityCreate, emission []models.EmissionActivityCreate) (int64, error)
	Close() error
}

type ScratchOpener func(ctx context.Context, logger ectologger.Logger) (ScratchStore, error)

func openScratch(ctx context.Context, logger ectologger.Logger) (ScratchStore, error) {
	store, err := persistence.OpenScratch(ctx, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// CheckActivitiesCompleteness exports the records to a scratch store, imports
// them into a copy of the source graph and re-extracts them. The re-extracted
// records must equal the input field for field. Activities that cannot be
// told apart by reference product, unit, location and name are reported as
// DuplicateKeyWarning since they would not link from other datasets.
func (e *Exporter) CheckActivitiesCompleteness(ctx context.Context, process []models.ProcessActivityCreate, metadata *models.DatasetMetadataCreate, emission []models.EmissionActivityCreate) ([]lcierrors.Warning, error) {
	ctx, span := tracing.StartSpan(ctx, "Exporter.CheckActivitiesCompleteness")
	defer span.End()

	log := e.logger.WithContext(ctx).WithField("dataset", metadata.Name)

	scratch, err := e.openScratch(ctx, e.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Close(); err != nil {
			log.WithError(err).Warn("Failed to close scratch store")
		}
	}()

	// The empty dataset name makes the imported codes equal the exported ones.
	temp := metadata.Clone()
	temp.Name = ""
	if _, err := scratch.ExportDataset(ctx, temp, process, emission); err != nil {
		return nil, err
	}

	snapshot, err := graph.Snapshot(ctx, e.source)
	if err != nil {
		return nil, err
	}

	imp, err := importer.New(ctx, importer.Config{BiosphereDatabase: e.cfg.BiosphereDatabase}, scratch, snapshot, e.logger)
	if err != nil {
		return nil, err
	}
	if err := imp.Reconcile(ctx); err != nil {
		log.WithError(err).Error("Exported data could not be re-imported")
		return nil, err
	}

	imported, err := snapshot.Activities(ctx, imp.Destination())
	if err != nil {
		return nil, err
	}
	warnings := duplicateKeyWarnings(imported)
	for _, w := range warnings {
		e.logWarning(ctx, w)
	}

	reextracted, err := e.extract(ctx, snapshot, []string{imp.Destination()})
	if err != nil {
		return nil, err
	}
	if err := compareProcessActivities(process, reextracted.ProcessActivities); err != nil {
		log.WithError(err).Error("Exported data can not be recreated")
		return nil, err
	}
	if err := compareEmissionActivities(emission, reextracted.EmissionActivities); err != nil {
		log.WithError(err).Error("Exported data can not be recreated")
		return nil, err
	}

	log.Info("Exported data was checked for completeness")
	return warnings, nil
}

func duplicateKeyWarnings(activities []graph.Activity) []lcierrors.Warning {
	var order []string
	groups := map[string][]string{}
	for _, a := range activities {
		key := strings.Join([]string{a.ReferenceProduct, a.Unit, a.Location, a.Name}, "\x1f")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a.Code)
	}

	var warnings []lcierrors.Warning
	for _, key := range order {
		codes := groups[key]
		if len(codes) < 2 {
			continue
		}
		fields := strings.Split(key, "\x1f")
		warnings = append(warnings, lcierrors.NewWarning(lcierrors.DuplicateKeyWarning, "", codes[0],
			"activities %s share reference product %q, unit %q, location %q and name %q",
			strings.Join(codes, ", "), fields[0], fields[1], fields[2], fields[3]))
	}
	return warnings
}

type field struct {
	name     string
	expected string
	actual   string
}

func ptrString(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return strconv.Quote(*s)
}

func ptrFloat(f *float64) string {
	if f == nil {
		return "<nil>"
	}
	return formatFloat(*f)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func activityFieldDiffs(want, got models.ActivityFields) []field {
	return []field{
		{"code", strconv.Quote(want.Code), strconv.Quote(got.Code)},
		{"name", strconv.Quote(want.Name), strconv.Quote(got.Name)},
		{"unit", strconv.Quote(want.Unit), strconv.Quote(got.Unit)},
		{"type", strconv.Quote(want.Type), strconv.Quote(got.Type)},
		{"comment", ptrString(want.Comment), ptrString(got.Comment)},
		{"database_old", strconv.Quote(want.DatabaseOld), strconv.Quote(got.DatabaseOld)},
		{"biosphere_version", ptrString(want.BiosphereVersion), ptrString(got.BiosphereVersion)},
	}
}

func exchangeFieldDiffs(want, got models.ExchangeFields) []field {
	return []field{
		{"output_code", strconv.Quote(want.OutputCode), strconv.Quote(got.OutputCode)},
		{"input_code", strconv.Quote(want.InputCode), strconv.Quote(got.InputCode)},
		{"name", strconv.Quote(want.Name), strconv.Quote(got.Name)},
		{"amount", formatFloat(want.Amount), formatFloat(got.Amount)},
		{"type", strconv.Quote(want.Type), strconv.Quote(got.Type)},
		{"unit", strconv.Quote(want.Unit), strconv.Quote(got.Unit)},
		{"formula", ptrString(want.Formula), ptrString(got.Formula)},
		{"categories", fmt.Sprintf("%q", want.Categories), fmt.Sprintf("%q", got.Categories)},
		{"uncertainty_type", ptrString(want.UncertaintyType), ptrString(got.UncertaintyType)},
		{"loc", ptrFloat(want.Loc), ptrFloat(got.Loc)},
		{"scale", ptrFloat(want.Scale), ptrFloat(got.Scale)},
		{"shape", ptrFloat(want.Shape), ptrFloat(got.Shape)},
		{"minimum", ptrFloat(want.Minimum), ptrFloat(got.Minimum)},
		{"maximum", ptrFloat(want.Maximum), ptrFloat(got.Maximum)},
	}
}

func firstDiff(fields []field) *field {
	for n := range fields {
		if fields[n].expected != fields[n].actual {
			return &fields[n]
		}
	}
	return nil
}

func sortedByCode[T any](items []T, code func(T) string) []T {
	out := append([]T{}, items...)
	sort.SliceStable(out, func(a, b int) bool { return code(out[a]) < code(out[b]) })
	return out
}

func sortExchanges[T any](items []T, fields func(T) models.ExchangeFields) []T {
	out := append([]T{}, items...)
	sort.SliceStable(out, func(a, b int) bool {
		x, y := fields(out[a]), fields(out[b])
		if x.InputCode != y.InputCode {
			return x.InputCode < y.InputCode
		}
		if x.Type != y.Type {
			return x.Type < y.Type
		}
		return x.Amount < y.Amount
	})
	return out
}

func mismatch(activity models.ActivityFields, exchange string, f *field) error {
	return &lcierrors.RoundTripMismatchError{
		Database: activity.DatabaseOld,
		Code:     activity.Code,
		Exchange: exchange,
		Field:    f.name,
		Expected: f.expected,
		Actual:   f.actual,
	}
}

func compareProcessActivities(want, got []models.ProcessActivityCreate) error {
	code := func(a models.ProcessActivityCreate) string { return a.Code }
	want, got = sortedByCode(want, code), sortedByCode(got, code)

	if len(want) != len(got) {
		return &lcierrors.RoundTripMismatchError{Field: "process activities", Expected: strconv.Itoa(len(want)), Actual: strconv.Itoa(len(got))}
	}

	for n := range want {
		w, g := want[n], got[n]
		fields := append(activityFieldDiffs(w.ActivityFields, g.ActivityFields),
			field{"location", strconv.Quote(w.Location), strconv.Quote(g.Location)},
			field{"reference_product", strconv.Quote(w.ReferenceProduct), strconv.Quote(g.ReferenceProduct)},
			field{"technosphere_exchanges", strconv.Itoa(len(w.TechnosphereExchanges)), strconv.Itoa(len(g.TechnosphereExchanges))},
			field{"biosphere_exchanges", strconv.Itoa(len(w.BiosphereExchanges)), strconv.Itoa(len(g.BiosphereExchanges))},
		)
		if f := firstDiff(fields); f != nil {
			return mismatch(w.ActivityFields, "", f)
		}

		technosphere := func(x models.TechnosphereExchangeCreate) models.ExchangeFields { return x.ExchangeFields }
		wt, gt := sortExchanges(w.TechnosphereExchanges, technosphere), sortExchanges(g.TechnosphereExchanges, technosphere)
		for x := range wt {
			fields := append(exchangeFieldDiffs(wt[x].ExchangeFields, gt[x].ExchangeFields),
				field{"location", strconv.Quote(wt[x].Location), strconv.Quote(gt[x].Location)},
				field{"reference_product", strconv.Quote(wt[x].ReferenceProduct), strconv.Quote(gt[x].ReferenceProduct)},
			)
			if f := firstDiff(fields); f != nil {
				return mismatch(w.ActivityFields, wt[x].InputCode, f)
			}
		}

		biosphere := func(x models.BiosphereExchangeCreate) models.ExchangeFields { return x.ExchangeFields }
		wb, gb := sortExchanges(w.BiosphereExchanges, biosphere), sortExchanges(g.BiosphereExchanges, biosphere)
		for x := range wb {
			fields := append(exchangeFieldDiffs(wb[x].ExchangeFields, gb[x].ExchangeFields),
				field{"location", ptrString(wb[x].Location), ptrString(gb[x].Location)},
			)
			if f := firstDiff(fields); f != nil {
				return mismatch(w.ActivityFields, wb[x].InputCode, f)
			}
		}
	}
	return nil
}

func compareEmissionActivities(want, got []models.EmissionActivityCreate) error {
	code := func(a models.EmissionActivityCreate) string { return a.Code }
	want, got = sortedByCode(want, code), sortedByCode(got, code)

	if len(want) != len(got) {
		return &lcierrors.RoundTripMismatchError{Field: "emission activities", Expected: strconv.Itoa(len(want)), Actual: strconv.Itoa(len(got))}
	}

	for n := range want {
		w, g := want[n], got[n]
		fields := append(activityFieldDiffs(w.ActivityFields, g.ActivityFields),
			field{"location", ptrString(w.Location), ptrString(g.Location)},
			field{"categories", fmt.Sprintf("%q", w.Categories), fmt.Sprintf("%q", g.Categories)},
		)
		if f := firstDiff(fields); f != nil {
			return mismatch(w.ActivityFields, "", f)
		}
	}
	return nil
}

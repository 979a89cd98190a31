package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// HTTPConvertible is implemented by every error in this package.
type HTTPConvertible interface {
	error
	ToHTTPError() *httperror.HTTPError
}

// ToHTTP converts a domain error anywhere in err's chain. Other errors are
// returned unchanged.
func ToHTTP(err error) error {
	var conv HTTPConvertible
	if stderrors.As(err, &conv) {
		return conv.ToHTTPError()
	}
	return err
}

// UnsupportedTypeError is raised for activity types the export recognizes but
// cannot represent, such as products.
type UnsupportedTypeError struct {
	Database string
	Code     string
	Type     string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("activity %s in database %s has unsupported type %q", e.Code, e.Database, e.Type)
}

func (e *UnsupportedTypeError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).
		AddMetaValue("database", e.Database).
		AddMetaValue("code", e.Code).
		AddMetaValue("type", e.Type)
}

// UnknownTypeError is raised for activity or exchange types outside the known
// set. Input is set when the offending object is an exchange.
type UnknownTypeError struct {
	Database string
	Code     string
	Type     string
	Input    string
}

func (e *UnknownTypeError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("exchange %s -> %s in database %s has unknown type %q", e.Code, e.Input, e.Database, e.Type)
	}
	return fmt.Sprintf("activity %s in database %s has unknown type %q", e.Code, e.Database, e.Type)
}

func (e *UnknownTypeError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).
		AddMetaValue("database", e.Database).
		AddMetaValue("code", e.Code).
		AddMetaValue("input", e.Input).
		AddMetaValue("type", e.Type)
}

type DatasetNotFoundError struct {
	Name string
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("dataset %q not found", e.Name)
}

func (e *DatasetNotFoundError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error()).AddMetaValue("dataset", e.Name)
}

// NotFoundError is returned by persistence lookups with no match.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error()).
		AddMetaValue("entity", e.Entity).
		AddMetaValue("key", e.Key)
}

// AmbiguousDatasetError is returned when a name lookup matches several
// versions that the caller did not disambiguate.
type AmbiguousDatasetError struct {
	Name     string
	Versions []float64
}

func (e *AmbiguousDatasetError) Error() string {
	versions := make([]string, len(e.Versions))
	for i, v := range e.Versions {
		versions[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("dataset %q is ambiguous across versions [%s]", e.Name, strings.Join(versions, ", "))
}

func (e *AmbiguousDatasetError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("dataset", e.Name)
}

// DatabaseExistsError is returned when an import would overwrite an existing
// database in the target graph.
type DatabaseExistsError struct {
	Name string
}

func (e *DatabaseExistsError) Error() string {
	return fmt.Sprintf("database %q already exists in the target graph", e.Name)
}

func (e *DatabaseExistsError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("database", e.Name)
}

// RoundTripMismatchError names the first field that differs between an
// export and its re-export.
type RoundTripMismatchError struct {
	Database string
	Code     string
	Exchange string
	Field    string
	Expected string
	Actual   string
}

func (e *RoundTripMismatchError) Error() string {
	where := fmt.Sprintf("activity %s (database %s)", e.Code, e.Database)
	if e.Exchange != "" {
		where += fmt.Sprintf(" exchange %s", e.Exchange)
	}
	return fmt.Sprintf("round trip mismatch in %s field %s: expected %s, got %s", where, e.Field, e.Expected, e.Actual)
}

func (e *RoundTripMismatchError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).
		AddMetaValue("database", e.Database).
		AddMetaValue("code", e.Code).
		AddMetaValue("exchange", e.Exchange).
		AddMetaValue("field", e.Field)
}

// UnlinkedProductionError is returned when activities fail to self-link
// through their production exchange.
type UnlinkedProductionError struct {
	Dataset    string
	Statistics map[string]int
}

func (e *UnlinkedProductionError) Error() string {
	return fmt.Sprintf("dataset %q has %d unlinked production exchanges", e.Dataset, e.Statistics["production"])
}

func (e *UnlinkedProductionError) ToHTTPError() *httperror.HTTPError {
	return withStatistics(httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("dataset", e.Dataset), e.Statistics)
}

type UnlinkedBiosphereError struct {
	Dataset    string
	Statistics map[string]int
}

func (e *UnlinkedBiosphereError) Error() string {
	return fmt.Sprintf("dataset %q has %d unlinked biosphere exchanges", e.Dataset, e.Statistics["biosphere"])
}

func (e *UnlinkedBiosphereError) ToHTTPError() *httperror.HTTPError {
	return withStatistics(httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("dataset", e.Dataset), e.Statistics)
}

// UnresolvedExchangesError carries the distinct unresolved count per exchange kind.
type UnresolvedExchangesError struct {
	Dataset    string
	Statistics map[string]int
}

func (e *UnresolvedExchangesError) Error() string {
	return fmt.Sprintf("dataset %q has unresolved exchanges: %s", e.Dataset, FormatStatistics(e.Statistics))
}

func (e *UnresolvedExchangesError) ToHTTPError() *httperror.HTTPError {
	return withStatistics(httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("dataset", e.Dataset), e.Statistics)
}

// IsUnresolved reports whether err is a matching failure the caller can
// recover from by exporting the unlinked remainder.
func IsUnresolved(err error) bool {
	var production *UnlinkedProductionError
	var biosphere *UnlinkedBiosphereError
	var unresolved *UnresolvedExchangesError
	return stderrors.As(err, &production) || stderrors.As(err, &biosphere) || stderrors.As(err, &unresolved)
}

// Statistics extracts the unresolved statistics from a matching failure.
func Statistics(err error) map[string]int {
	var production *UnlinkedProductionError
	var biosphere *UnlinkedBiosphereError
	var unresolved *UnresolvedExchangesError
	switch {
	case stderrors.As(err, &production):
		return production.Statistics
	case stderrors.As(err, &biosphere):
		return biosphere.Statistics
	case stderrors.As(err, &unresolved):
		return unresolved.Statistics
	}
	return nil
}

// PersistenceError wraps a failed store operation. The transaction has been
// rolled back when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, e.Error()).AddMetaValue("operation", e.Op)
}

// FormatStatistics renders statistics as "kind=count" pairs sorted by kind.
func FormatStatistics(stats map[string]int) string {
	kinds := make([]string, 0, len(stats))
	for kind := range stats {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, len(kinds))
	for i, kind := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", kind, stats[kind])
	}
	return strings.Join(parts, ", ")
}

func withStatistics(err *httperror.HTTPError, stats map[string]int) *httperror.HTTPError {
	for kind, count := range stats {
		err = err.AddMetaValue("unresolved_"+kind, strconv.Itoa(count))
	}
	return err
}

// ValidationError reports input rejected by struct validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Message)
}

// ImportInProgressError is returned when another process holds the import
// lock of the destination.
type ImportInProgressError struct {
	Destination string
}

func (e *ImportInProgressError) Error() string {
	return fmt.Sprintf("an import into %q is already in progress", e.Destination)
}

func (e *ImportInProgressError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("destination", e.Destination)
}

package errors

import "fmt"

type WarningKind string

const (
	IncompleteExportWarning  WarningKind = "incomplete_export"
	DuplicateVersionWarning  WarningKind = "duplicate_version"
	DuplicateKeyWarning      WarningKind = "duplicate_key"
	MultipleVersionsWarning  WarningKind = "multiple_versions"
	MissingDependencyWarning WarningKind = "missing_dependency"
	MultipleDatabasesWarning WarningKind = "multiple_databases"
)

// Warning is a non-fatal condition collected during export or import.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Message  string      `json:"message"`
	Database string      `json:"database,omitempty"`
	Code     string      `json:"code,omitempty"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

func NewWarning(kind WarningKind, database, code, format string, args ...any) Warning {
	return Warning{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Database: database,
		Code:     code,
	}
}

// Warnings is an ordered collection of warnings.
type Warnings []Warning

func (ws *Warnings) Add(w ...Warning) {
	*ws = append(*ws, w...)
}

// Of returns the warnings of the given kind.
func (ws Warnings) Of(kind WarningKind) Warnings {
	var out Warnings
	for _, w := range ws {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

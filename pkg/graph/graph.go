// Package graph models LCI databases as arenas of activities whose exchanges
// reference their inputs by key rather than by pointer.
package graph

import (
	"context"
	"fmt"
)

// Key identifies an activity across databases.
type Key struct {
	Database string `yaml:"database" json:"database"`
	Code     string `yaml:"code" json:"code"`
}

func (k Key) String() string {
	return fmt.Sprintf("(%s, %s)", k.Database, k.Code)
}

// IsZero reports whether k references nothing, as for an unlinked exchange.
func (k Key) IsZero() bool {
	return k.Database == "" && k.Code == ""
}

// Uncertainty describes an optional parametric distribution. Nil fields are absent.
type Uncertainty struct {
	Type    string   `yaml:"type,omitempty" json:"type,omitempty"`
	Loc     *float64 `yaml:"loc,omitempty" json:"loc,omitempty"`
	Scale   *float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	Shape   *float64 `yaml:"shape,omitempty" json:"shape,omitempty"`
	Minimum *float64 `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum *float64 `yaml:"maximum,omitempty" json:"maximum,omitempty"`
}

// Exchange is a directed edge from its owning activity (Output) to Input.
type Exchange struct {
	Type        string         `yaml:"type" json:"type"`
	Amount      float64        `yaml:"amount" json:"amount"`
	Formula     string         `yaml:"formula,omitempty" json:"formula,omitempty"`
	Uncertainty Uncertainty    `yaml:"uncertainty,omitempty" json:"uncertainty,omitempty"`
	Input       Key            `yaml:"input" json:"input"`
	Output      Key            `yaml:"output" json:"output"`
	Extra       map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Activity is a node of an LCI database. Attributes outside the typed field
// set are kept in Extra so exports can report them.
type Activity struct {
	Database         string     `yaml:"database" json:"database"`
	Code             string     `yaml:"code" json:"code"`
	Name             string     `yaml:"name" json:"name"`
	Location         string     `yaml:"location,omitempty" json:"location,omitempty"`
	Unit             string     `yaml:"unit,omitempty" json:"unit,omitempty"`
	ReferenceProduct string     `yaml:"reference_product,omitempty" json:"reference_product,omitempty"`
	Type             string     `yaml:"type,omitempty" json:"type,omitempty"`
	Comment          string     `yaml:"comment,omitempty" json:"comment,omitempty"`
	Categories       []string   `yaml:"categories,omitempty" json:"categories,omitempty"`
	// Origin is the database the activity was exported from, when it was imported.
	Origin    string         `yaml:"origin,omitempty" json:"origin,omitempty"`
	Exchanges []Exchange     `yaml:"exchanges,omitempty" json:"exchanges,omitempty"`
	Extra     map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

func (a *Activity) Key() Key {
	return Key{Database: a.Database, Code: a.Code}
}

// Clone returns a deep copy of a.
func (a *Activity) Clone() Activity {
	out := *a
	out.Categories = append([]string(nil), a.Categories...)
	out.Extra = cloneMap(a.Extra)
	out.Exchanges = make([]Exchange, len(a.Exchanges))
	for i, e := range a.Exchanges {
		e.Extra = cloneMap(e.Extra)
		e.Uncertainty = e.Uncertainty.clone()
		out.Exchanges[i] = e
	}
	if a.Exchanges == nil {
		out.Exchanges = nil
	}
	return out
}

func (u Uncertainty) clone() Uncertainty {
	return Uncertainty{
		Type:    u.Type,
		Loc:     cloneFloat(u.Loc),
		Scale:   cloneFloat(u.Scale),
		Shape:   cloneFloat(u.Shape),
		Minimum: cloneFloat(u.Minimum),
		Maximum: cloneFloat(u.Maximum),
	}
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Source is a graph an export reads from.
type Source interface {
	Databases(ctx context.Context) ([]string, error)
	// DatabaseDependencies returns the databases name declares it depends on.
	DatabaseDependencies(ctx context.Context, name string) ([]string, error)
	Activities(ctx context.Context, database string) ([]Activity, error)
	// Activity returns nil when key does not exist.
	Activity(ctx context.Context, key Key) (*Activity, error)
}

// Target is a graph an import writes into. Activities on a missing database
// returns an empty slice.
type Target interface {
	Activities(ctx context.Context, database string) ([]Activity, error)
	HasDatabase(ctx context.Context, name string) (bool, error)
	// WriteDatabase writes one database atomically. Every exchange input must
	// resolve either inside activities or in an existing database.
	WriteDatabase(ctx context.Context, name string, depends []string, activities []Activity) error
}

// Graph is both a Source and a Target.
type Graph interface {
	Source
	Target
}

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Neo4jConfig holds graph database configuration
type Neo4jConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Neo4jStore keeps databases as (:Database) nodes and activities as
// (:Activity) nodes linked by [:EXCHANGE] relationships from output to input.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger ectologger.Logger
}

var _ Graph = (*Neo4jStore)(nil)

// NewNeo4jStore creates a store over a bolt connection
func NewNeo4jStore(cfg Neo4jConfig, logger ectologger.Logger) (*Neo4jStore, error) {
	uri := fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port)

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	return &Neo4jStore{
		driver: driver,
		logger: logger,
	}, nil
}

// Close closes the driver connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// VerifyConnectivity checks if the database is reachable
func (s *Neo4jStore) VerifyConnectivity(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Neo4jStore) executeWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jStore.ExecuteWrite")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	return session.ExecuteWrite(ctx, work)
}

func (s *Neo4jStore) executeRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jStore.ExecuteRead")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	return session.ExecuteRead(ctx, work)
}

func (s *Neo4jStore) collect(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := s.executeRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*neo4j.Record), nil
}

func (s *Neo4jStore) Databases(ctx context.Context) ([]string, error) {
	records, err := s.collect(ctx, `MATCH (d:Database) RETURN d.name AS name ORDER BY d.name`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	names := make([]string, 0, len(records))
	for _, record := range records {
		name, _ := record.Get("name")
		names = append(names, asString(name))
	}
	return names, nil
}

func (s *Neo4jStore) DatabaseDependencies(ctx context.Context, name string) ([]string, error) {
	records, err := s.collect(ctx, `MATCH (d:Database {name: $name}) RETURN d.depends AS depends`, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to read dependencies of %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, &lcierrors.NotFoundError{Entity: "database", Key: name}
	}

	depends, _ := records[0].Get("depends")
	return asStrings(depends), nil
}

func (s *Neo4jStore) HasDatabase(ctx context.Context, name string) (bool, error) {
	records, err := s.collect(ctx, `MATCH (d:Database {name: $name}) RETURN count(d) AS n`, map[string]any{"name": name})
	if err != nil {
		return false, fmt.Errorf("failed to look up database %s: %w", name, err)
	}
	n, _ := records[0].Get("n")
	count, _ := n.(int64)
	return count > 0, nil
}

const activityQuery = `
	MATCH (a:Activity {database: $database})
	WHERE $code IS NULL OR a.code = $code
	OPTIONAL MATCH (a)-[x:EXCHANGE]->(i:Activity)
	WITH a, x, i ORDER BY a.code, x.position
	RETURN a, collect(CASE WHEN x IS NULL THEN null
		ELSE {props: properties(x), input_database: i.database, input_code: i.code} END) AS exchanges
	ORDER BY a.code
`

func (s *Neo4jStore) Activities(ctx context.Context, database string) ([]Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jStore.Activities")
	defer span.End()

	records, err := s.collect(ctx, activityQuery, map[string]any{"database": database, "code": nil})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("database", database).Error("Failed to read activities from graph")
		return nil, fmt.Errorf("failed to read activities of %s: %w", database, err)
	}

	activities := make([]Activity, 0, len(records))
	for _, record := range records {
		activity, err := activityFromRecord(record)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, nil
}

func (s *Neo4jStore) Activity(ctx context.Context, key Key) (*Activity, error) {
	records, err := s.collect(ctx, activityQuery, map[string]any{"database": key.Database, "code": key.Code})
	if err != nil {
		return nil, fmt.Errorf("failed to read activity %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	activity, err := activityFromRecord(records[0])
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// WriteDatabase creates database name in one write transaction. The
// transaction is rolled back when name already exists or when fewer
// relationships are created than there are exchanges, which means an input
// did not match any activity.
func (s *Neo4jStore) WriteDatabase(ctx context.Context, name string, depends []string, activities []Activity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4jStore.WriteDatabase")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"database":   name,
		"activities": len(activities),
	})

	nodes := make([]map[string]any, 0, len(activities))
	var edges []map[string]any
	codes := make(map[string]struct{}, len(activities))
	for i := range activities {
		activity := activities[i].Clone()
		activity.Database = name
		if _, dup := codes[activity.Code]; dup {
			return fmt.Errorf("writing database %q: duplicate activity code %q", name, activity.Code)
		}
		codes[activity.Code] = struct{}{}

		props, err := activityProps(activity)
		if err != nil {
			return err
		}
		nodes = append(nodes, props)

		for position, exchange := range activity.Exchanges {
			props, err := exchangeProps(exchange, position)
			if err != nil {
				return err
			}
			edges = append(edges, map[string]any{
				"output_code":    activity.Code,
				"input_database": exchange.Input.Database,
				"input_code":     exchange.Input.Code,
				"props":          props,
			})
		}
	}
	if depends == nil {
		depends = []string{}
	}

	_, err := s.executeWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		existing, err := tx.Run(ctx, `
			OPTIONAL MATCH (d:Database {name: $name})
			OPTIONAL MATCH (a:Activity {database: $name})
			RETURN count(d) + count(a) AS n
		`, map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		record, err := existing.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		if count, _ := n.(int64); count > 0 {
			return nil, &lcierrors.DatabaseExistsError{Name: name}
		}

		steps := []struct {
			cypher string
			params map[string]any
		}{
			{`CREATE (d:Database {name: $name}) SET d.depends = $depends`, map[string]any{"name": name, "depends": depends}},
			{`UNWIND $nodes AS props CREATE (a:Activity) SET a = props`, map[string]any{"nodes": nodes}},
		}
		for _, step := range steps {
			result, err := tx.Run(ctx, step.cypher, step.params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}

		result, err := tx.Run(ctx, `
			UNWIND $edges AS x
			MATCH (o:Activity {database: $name, code: x.output_code})
			MATCH (i:Activity {database: x.input_database, code: x.input_code})
			CREATE (o)-[r:EXCHANGE]->(i)
			SET r = x.props
		`, map[string]any{"name": name, "edges": edges})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		if created := summary.Counters().RelationshipsCreated(); created != len(edges) {
			return nil, fmt.Errorf("writing database %q: %d of %d exchange inputs did not resolve", name, len(edges)-created, len(edges))
		}
		return nil, nil
	})
	var exists *lcierrors.DatabaseExistsError
	if errors.As(err, &exists) {
		log.Warn("Refused to overwrite existing database")
		return exists
	}
	if err != nil {
		log.WithError(err).Error("Failed to write database to graph")
		return fmt.Errorf("failed to write database %s: %w", name, err)
	}

	log.Debug("Wrote database to graph")
	return nil
}

func activityProps(a Activity) (map[string]any, error) {
	extra, err := encodeExtra(a.Extra)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", a.Key(), err)
	}
	categories := a.Categories
	if categories == nil {
		categories = []string{}
	}
	return map[string]any{
		"database":          a.Database,
		"code":              a.Code,
		"name":              a.Name,
		"location":          a.Location,
		"unit":              a.Unit,
		"reference_product": a.ReferenceProduct,
		"type":              a.Type,
		"comment":           a.Comment,
		"categories":        categories,
		"origin":            a.Origin,
		"extra":             extra,
	}, nil
}

// exchangeProps leaves absent uncertainty fields out, since null properties
// are not stored.
func exchangeProps(e Exchange, position int) (map[string]any, error) {
	extra, err := encodeExtra(e.Extra)
	if err != nil {
		return nil, fmt.Errorf("exchange %s -> %s: %w", e.Output, e.Input, err)
	}
	props := map[string]any{
		"position":         position,
		"type":             e.Type,
		"amount":           e.Amount,
		"formula":          e.Formula,
		"uncertainty_type": e.Uncertainty.Type,
		"extra":            extra,
	}
	for key, value := range map[string]*float64{
		"loc":     e.Uncertainty.Loc,
		"scale":   e.Uncertainty.Scale,
		"shape":   e.Uncertainty.Shape,
		"minimum": e.Uncertainty.Minimum,
		"maximum": e.Uncertainty.Maximum,
	} {
		if value != nil {
			props[key] = *value
		}
	}
	return props, nil
}

func activityFromRecord(record *neo4j.Record) (Activity, error) {
	value, _ := record.Get("a")
	node, ok := value.(neo4j.Node)
	if !ok {
		return Activity{}, fmt.Errorf("unexpected activity record %T", value)
	}
	p := node.Props

	activity := Activity{
		Database:         asString(p["database"]),
		Code:             asString(p["code"]),
		Name:             asString(p["name"]),
		Location:         asString(p["location"]),
		Unit:             asString(p["unit"]),
		ReferenceProduct: asString(p["reference_product"]),
		Type:             asString(p["type"]),
		Comment:          asString(p["comment"]),
		Categories:       asStrings(p["categories"]),
		Origin:           asString(p["origin"]),
	}
	if len(activity.Categories) == 0 {
		activity.Categories = nil
	}
	extra, err := decodeExtra(p["extra"])
	if err != nil {
		return Activity{}, fmt.Errorf("activity %s: %w", activity.Key(), err)
	}
	activity.Extra = extra

	rows, _ := record.Get("exchanges")
	list, _ := rows.([]any)
	for _, row := range list {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		props, _ := m["props"].(map[string]any)
		extra, err := decodeExtra(props["extra"])
		if err != nil {
			return Activity{}, fmt.Errorf("activity %s: %w", activity.Key(), err)
		}
		activity.Exchanges = append(activity.Exchanges, Exchange{
			Type:    asString(props["type"]),
			Amount:  asFloat(props["amount"]),
			Formula: asString(props["formula"]),
			Uncertainty: Uncertainty{
				Type:    asString(props["uncertainty_type"]),
				Loc:     asFloatPtr(props["loc"]),
				Scale:   asFloatPtr(props["scale"]),
				Shape:   asFloatPtr(props["shape"]),
				Minimum: asFloatPtr(props["minimum"]),
				Maximum: asFloatPtr(props["maximum"]),
			},
			Input:  Key{Database: asString(m["input_database"]), Code: asString(m["input_code"])},
			Output: activity.Key(),
			Extra:  extra,
		})
	}
	return activity, nil
}

func encodeExtra(extra map[string]any) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("failed to encode extra attributes: %w", err)
	}
	return string(b), nil
}

func decodeExtra(value any) (map[string]any, error) {
	s := asString(value)
	if s == "" {
		return nil, nil
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(s), &extra); err != nil {
		return nil, fmt.Errorf("failed to decode extra attributes: %w", err)
	}
	return extra, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	f := asFloat(v)
	return &f
}

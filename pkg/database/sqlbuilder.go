package database

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

// ReturningID builds the statement with a trailing RETURNING clause on the
// given key column. PostgreSQL and SQLite (3.35+) both accept it.
func (b *InsertBuilder) ReturningID(column string) (string, []any) {
	query, args := b.Build()
	return fmt.Sprintf("%s RETURNING %s", query, column), args
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder(flavor sqlbuilder.Flavor) *SelectBuilder {
	return &SelectBuilder{flavor.NewSelectBuilder()}
}

type DeleteBuilder struct {
	*sqlbuilder.DeleteBuilder
}

func NewDeleteBuilder(flavor sqlbuilder.Flavor) *DeleteBuilder {
	return &DeleteBuilder{flavor.NewDeleteBuilder()}
}

// Qualify prefixes every column with alias.
func Qualify(alias string, columns ...string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}

// InsertID executes an insert built with ReturningID and scans the new key.
func InsertID(ctx context.Context, q Queryer, b *InsertBuilder, column string) (int64, error) {
	query, args := b.ReturningID(column)
	var id int64
	if err := q.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logging"
)

func newTestDB(t *testing.T) database.DB {
	t.Helper()
	db, err := database.OpenInMemory(context.Background(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(context.Background(), "CREATE TABLE item (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)")
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, ctx context.Context, db database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, database.Conn(ctx, db).GetContext(ctx, &n, "SELECT COUNT(*) FROM item"))
	return n
}

func insertItem(t *testing.T, ctx context.Context, db database.DB, name string) int64 {
	t.Helper()
	ib := database.NewInsertBuilder(db.Flavor())
	ib.InsertInto("item")
	ib.Cols("name")
	ib.Values(name)
	id, err := database.InsertID(ctx, database.Conn(ctx, db), ib, "id")
	require.NoError(t, err)
	return id
}

func TestGetTx(t *testing.T) {
	t.Run("owner commits", func(t *testing.T) {
		db := newTestDB(t)
		ctx, tx, err := db.GetTx(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, tx.IsOwner())

		insertItem(t, ctx, db, "a")
		require.NoError(t, tx.Commit(ctx))
		assert.False(t, tx.IsOpen())

		assert.Equal(t, 1, countItems(t, context.Background(), db))
	})

	t.Run("owner rolls back", func(t *testing.T) {
		db := newTestDB(t)
		ctx, tx, err := db.GetTx(context.Background(), nil)
		require.NoError(t, err)

		insertItem(t, ctx, db, "a")
		require.NoError(t, tx.Rollback(ctx))

		assert.Equal(t, 0, countItems(t, context.Background(), db))
	})

	t.Run("nested transaction defers to the owner", func(t *testing.T) {
		db := newTestDB(t)
		ctx, outer, err := db.GetTx(context.Background(), nil)
		require.NoError(t, err)

		innerCtx, inner, err := db.GetTx(ctx, nil)
		require.NoError(t, err)
		assert.False(t, inner.IsOwner())

		insertItem(t, innerCtx, db, "a")
		require.NoError(t, inner.Commit(innerCtx))
		assert.True(t, outer.IsOpen())

		require.NoError(t, outer.Rollback(ctx))
		assert.False(t, inner.IsOpen())
		assert.Equal(t, 0, countItems(t, context.Background(), db))
	})

	t.Run("nested rollback leaves the owner open", func(t *testing.T) {
		db := newTestDB(t)
		ctx, outer, err := db.GetTx(context.Background(), nil)
		require.NoError(t, err)

		innerCtx, inner, err := db.GetTx(ctx, nil)
		require.NoError(t, err)
		insertItem(t, innerCtx, db, "a")
		require.NoError(t, inner.Rollback(innerCtx))

		require.NoError(t, outer.Commit(ctx))
		assert.Equal(t, 1, countItems(t, context.Background(), db))
	})

	t.Run("closed transaction is not reused", func(t *testing.T) {
		db := newTestDB(t)
		ctx, tx, err := db.GetTx(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		_, next, err := db.GetTx(ctx, nil)
		require.NoError(t, err)
		assert.True(t, next.IsOwner())
		require.NoError(t, next.Rollback(ctx))
	})
}

func TestFlavorFor(t *testing.T) {
	assert.Equal(t, "SQLite", database.FlavorFor(database.DriverSQLite).String())
	assert.Equal(t, "PostgreSQL", database.FlavorFor(database.DriverPostgres).String())
}

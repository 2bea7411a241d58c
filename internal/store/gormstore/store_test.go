package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/suteetoe/tenantgate/internal/store"
)

func TestBoundContext(t *testing.T) {
	t.Run("zero timeout keeps context", func(t *testing.T) {
		ctx := context.Background()
		got, cancel := boundContext(ctx, 0)
		defer cancel()
		_, ok := got.Deadline()
		assert.False(t, ok)
	})

	t.Run("applies timeout", func(t *testing.T) {
		got, cancel := boundContext(context.Background(), time.Second)
		defer cancel()
		deadline, ok := got.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
	})

	t.Run("keeps sooner caller deadline", func(t *testing.T) {
		ctx, cancelCaller := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelCaller()
		want, _ := ctx.Deadline()

		got, cancel := boundContext(ctx, time.Minute)
		defer cancel()
		deadline, ok := got.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, deadline)
	})

	t.Run("cancel releases the bound", func(t *testing.T) {
		got, cancel := boundContext(context.Background(), time.Minute)
		cancel()
		assert.ErrorIs(t, got.Err(), context.Canceled)
	})
}

// offlineDB opens a handle that never dials; statements are only built.
func offlineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=127.0.0.1 port=1 user=x dbname=x sslmode=disable"), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func TestStandaloneQueriesCarryTimeout(t *testing.T) {
	st := NewStore(offlineDB(t), 5*time.Second)

	db, done := st.session(context.Background(), "query")
	deadline, ok := db.Statement.Context.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)

	done()
	assert.ErrorIs(t, db.Statement.Context.Err(), context.Canceled)
}

func TestTransactionQueriesUseCallerContext(t *testing.T) {
	q := &queries{db: offlineDB(t)}

	db, done := q.session(context.Background(), "query")
	defer done()
	_, ok := db.Statement.Context.Deadline()
	assert.False(t, ok)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), store.ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: uniqueViolation}), store.ErrDuplicate)

	fk := &pgconn.PgError{Code: foreignKeyViolation, ConstraintName: "fk_projects_tasks"}
	err := translate(fk)
	assert.ErrorIs(t, err, store.ErrNotFound)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "fk_projects_tasks", pgErr.ConstraintName)

	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}

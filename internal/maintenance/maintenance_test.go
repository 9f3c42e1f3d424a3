package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/alertflow/internal/store"
)

func windowRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "server_group", "server_name", "other_server", "comments",
		"start_datetime", "end_datetime", "status", "created_at", "updated_at",
	})
}

func newChecker(t *testing.T, now time.Time) (*Checker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := New(store.New(db).Maintenance)
	c.now = func() time.Time { return now }
	return c, mock
}

func TestCheckOngoingWindowSuppresses(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)
	c, mock := newChecker(t, now)

	mock.ExpectQuery("SELECT parent FROM parent_child_relationships").
		WithArgs("DEPROD01").
		WillReturnRows(sqlmock.NewRows([]string{"parent"}))
	mock.ExpectQuery("FROM maintenance_windows").
		WillReturnRows(windowRows().AddRow(
			int64(4), "SAP", "DEPROD01", "", "patching",
			now.Add(-time.Hour), now.Add(time.Hour), "Scheduled", now, now,
		))

	res, err := c.Check(context.Background(), "DEPROD01")
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "DEPROD01", res.Server)
}

func TestCheckParentWindowSuppressesChild(t *testing.T) {
	now := time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)
	c, mock := newChecker(t, now)

	mock.ExpectQuery("SELECT parent FROM parent_child_relationships").
		WithArgs("DECHILD07").
		WillReturnRows(sqlmock.NewRows([]string{"parent"}).AddRow("DEHOST01"))
	mock.ExpectQuery("FROM maintenance_windows").
		WillReturnRows(windowRows().AddRow(
			int64(9), "Virtualization", "DEHOST01", "", "",
			now.Add(-time.Hour), now.Add(time.Hour), "Ongoing", now, now,
		))

	res, err := c.Check(context.Background(), "DECHILD07")
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "DEHOST01", res.Server)
}

func TestCheckExpiredWindowDoesNotSuppress(t *testing.T) {
	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	c, mock := newChecker(t, now)

	mock.ExpectQuery("SELECT parent FROM parent_child_relationships").
		WithArgs("DEPROD01").
		WillReturnRows(sqlmock.NewRows([]string{"parent"}))
	// stored status says Ongoing, but the window is over
	mock.ExpectQuery("FROM maintenance_windows").
		WillReturnRows(windowRows().AddRow(
			int64(4), "SAP", "DEPROD01", "", "",
			now.Add(-3*time.Hour), now.Add(-time.Hour), "Ongoing", now, now,
		))

	res, err := c.Check(context.Background(), "DEPROD01")
	require.NoError(t, err)
	assert.False(t, res.Suppressed)
}

func TestCheckEmptyMachine(t *testing.T) {
	c, _ := newChecker(t, time.Now())

	res, err := c.Check(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Suppressed)
}

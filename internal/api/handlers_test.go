package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/scheduler"
	"github.com/ignite/alertflow/internal/store"
	"github.com/ignite/alertflow/internal/supervisor"
)

func newTestServer(t *testing.T) (http.Handler, sqlmock.Sqlmock, *supervisor.Supervisor, *scheduler.Scheduler) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	st := store.New(db)
	sup := supervisor.New(nil)
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{IntervalUnit: "minutes", IntervalValue: 10},
	}
	sched := scheduler.New(st.Settings, cfg, "mailbox_ingest", func(ctx context.Context) error { return nil })
	t.Cleanup(sched.Stop)
	rt := router.New(st.Triggers, "")

	srv := New(config.ServerConfig{}, st, sup, sched, rt)
	return srv.Handler(), mock, sup, sched
}

func TestHealthCheck(t *testing.T) {
	h, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusReturnsSupervisorReport(t *testing.T) {
	h, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var report supervisor.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, supervisor.StatusInitializing, report.Status)
}

func TestDuplicateCount(t *testing.T) {
	h, mock, _, _ := newTestServer(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM duplicate_emails").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/duplicates/count?hours=6", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":4`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerIngestRequiresRunningScheduler(t *testing.T) {
	h, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest/run", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseAndResume(t *testing.T) {
	h, _, sup, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/supervisor/pause", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sup.Paused())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/supervisor/resume", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sup.Paused())
}

func TestSetSchedulerIntervalValidation(t *testing.T) {
	h, _, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"unit":"hours","value":1}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/scheduler/interval", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = bytes.NewBufferString(`{"unit":"minutes","value":0}`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/scheduler/interval", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetSchedulerInterval(t *testing.T) {
	h, mock, sup, sched := newTestServer(t)

	mock.ExpectQuery("SELECT interval_unit, interval_value FROM config").
		WillReturnError(sql.ErrNoRows)
	sched.Start(context.Background())
	require.True(t, sched.Running())

	mock.ExpectExec("INSERT INTO config").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT interval_unit, interval_value FROM config").
		WillReturnRows(sqlmock.NewRows([]string{"interval_unit", "interval_value"}).
			AddRow("minutes", 5))

	body := bytes.NewBufferString(`{"unit":"minutes","value":5}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/scheduler/interval", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "5m0s")
	assert.False(t, sup.Paused())
	assert.True(t, sched.Running())
}

func TestReloadRouting(t *testing.T) {
	h, mock, _, _ := newTestServer(t)

	mock.ExpectQuery("SELECT (.+) FROM trigger_mappings").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "trigger_name", "category", "priority", "actionable",
			"recommended_action", "team", "department", "responsible_persons",
		}).AddRow(1, "CPU load high", "Performance", "P1", "Yes", "Investigate", "SAP Basis", "IT", "Jane"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/routing/reload", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package classify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/alertflow/internal/broker"
	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/llm"
	"github.com/ignite/alertflow/internal/maintenance"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/store"
)

type fakeGenerator struct {
	replies []string
	calls   int
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	reply := g.replies[g.calls%len(g.replies)]
	g.calls++
	return reply, nil
}

type fakePublisher struct {
	queues   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.queues = append(p.queues, queue)
	p.payloads = append(p.payloads, body)
	return nil
}

func classifierConfig() *config.Config {
	return &config.Config{
		Broker:  config.BrokerConfig{SummQueue: "summ_q"},
		Routing: config.RoutingConfig{GroupStrategy: "first-exact"},
	}
}

func newClassifier(t *testing.T, gen llm.TextGenerator, cfg *config.Config) (*Classifier, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	st := store.New(db)
	pub := &fakePublisher{}
	rt := router.New(st.Triggers, "")
	// maintenance stays off by default; the suppression test wires it up
	c := New(st, pub, gen, llm.NewPool(1), rt, nil, cfg)
	c.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	return c, mock, pub
}

func delivery(t *testing.T, msg domain.AlertMessage) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func alertFixture() domain.AlertMessage {
	return domain.AlertMessage{
		EmailID:    "abc123",
		Sender:     "controlup@bitzer.de",
		Subject:    "CPU load high on Machine DEPROD01.bitzer",
		Body:       "Trigger Name: CPU load high\nSeverity: Critical",
		ReceivedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func expectNotYetClassified(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM segregated_email").
		WillReturnRows(sqlmock.NewRows([]string{"email_id"}))
}

func expectNoServerMatch(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM servers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "computer_name", "server_group", "description_function", "responsible_person"}))
}

func TestHandleCriticalAlertReachesSummarization(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{
		"priority": "P1",
		"type": "Actionable",
		"resource_name": "DEPROD01",
		"trigger_name": "CPU load high",
		"generated_summary": "CPU load is critically high on DEPROD01.",
		"recommended_action": "Check top processes and restart the offending service."
	}`}}

	c, mock, pub := newClassifier(t, gen, classifierConfig())

	expectNotYetClassified(mock)
	expectNoServerMatch(mock)
	mock.ExpectExec("INSERT INTO segregated_email").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO summary_table").WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Handle(context.Background(), delivery(t, alertFixture()))
	require.NoError(t, err)

	require.Equal(t, []string{"summ_q"}, pub.queues)
	var out domain.AlertMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &out))
	assert.Equal(t, "P1", out.Priority)
	assert.Equal(t, "DEPROD01", out.ResourceName)
	assert.Equal(t, "CPU load high", out.TriggerName)
	assert.Equal(t, router.GeneralTeam, out.Team)
	assert.Equal(t, 1, gen.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleLowPriorityStopsAfterClassification(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{
		"priority": "P3",
		"type": "Actionable",
		"resource_name": "DEPROD01",
		"trigger_name": "Disk space warning",
		"generated_summary": "Disk usage crossed the warning threshold.",
		"recommended_action": "Clean up old log files."
	}`}}

	c, mock, pub := newClassifier(t, gen, classifierConfig())

	expectNotYetClassified(mock)
	expectNoServerMatch(mock)
	mock.ExpectExec("INSERT INTO segregated_email").WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Handle(context.Background(), delivery(t, alertFixture()))
	require.NoError(t, err)

	assert.Empty(t, pub.queues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleGracefulShutdownBypassesModel(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"should not be called"}}
	c, mock, pub := newClassifier(t, gen, classifierConfig())

	msg := alertFixture()
	msg.Subject = "Machine DEPROD01.bitzer shut down gracefully"
	msg.Body = "The machine shut down gracefully."

	expectNotYetClassified(mock)
	expectNoServerMatch(mock)
	mock.ExpectExec("INSERT INTO segregated_email").WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Handle(context.Background(), delivery(t, msg))
	require.NoError(t, err)

	assert.Zero(t, gen.calls)
	assert.Empty(t, pub.queues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSkipsAlreadyClassified(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"unused"}}
	c, mock, pub := newClassifier(t, gen, classifierConfig())

	rows := sqlmock.NewRows([]string{
		"email_id", "priority", "type", "resource_name", "trigger_name",
		"generated_summary", "recommended_action", "inserted_at", "status",
	}).AddRow("abc123", "P1", "Actionable", "DEPROD01", "CPU load high", "done", "done", time.Now(), true)
	mock.ExpectQuery("SELECT (.+) FROM segregated_email").WillReturnRows(rows)

	err := c.Handle(context.Background(), delivery(t, alertFixture()))
	require.NoError(t, err)

	assert.Zero(t, gen.calls)
	assert.Empty(t, pub.queues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWindowDedupSuppresses(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{
		"priority": "P1",
		"type": "Actionable",
		"resource_name": "DEPROD01",
		"trigger_name": "CPU load high",
		"generated_summary": "CPU load is critically high.",
		"recommended_action": "Investigate."
	}`}}

	cfg := classifierConfig()
	cfg.Dedup = config.DedupConfig{WindowEnabled: true, WindowHours: 1}
	c, mock, pub := newClassifier(t, gen, cfg)

	expectNotYetClassified(mock)
	expectNoServerMatch(mock)
	mock.ExpectQuery("SELECT email_id FROM segregated_email").
		WillReturnRows(sqlmock.NewRows([]string{"email_id"}).AddRow("prior42"))
	mock.ExpectExec("INSERT INTO segregated_email").WillReturnResult(sqlmock.NewResult(0, 1))
	// the suppressed repeat is filed under the prior alert's email id
	mock.ExpectExec("INSERT INTO duplicate_emails").
		WithArgs("abc123", "prior42", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Handle(context.Background(), delivery(t, alertFixture()))
	require.NoError(t, err)

	assert.Empty(t, pub.queues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMaintenanceSuppresses(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{
		"priority": "P1",
		"type": "Actionable",
		"resource_name": "DEPROD01",
		"trigger_name": "CPU load high",
		"generated_summary": "CPU load is critically high.",
		"recommended_action": "Investigate."
	}`}}

	c, mock, pub := newClassifier(t, gen, classifierConfig())
	c.maint = maintenance.New(c.store.Maintenance)

	expectNotYetClassified(mock)
	expectNoServerMatch(mock)
	mock.ExpectQuery("SELECT parent FROM parent_child_relationships").
		WillReturnRows(sqlmock.NewRows([]string{"parent"}))
	now := time.Now()
	windowRows := sqlmock.NewRows([]string{
		"id", "server_group", "server_name", "other_server", "comments",
		"start_datetime", "end_datetime", "status", "created_at", "updated_at",
	}).AddRow(7, "SAP", "DEPROD01", "", "patching", now.Add(-time.Hour), now.Add(time.Hour), "Scheduled", now, now)
	mock.ExpectQuery("SELECT (.+) FROM maintenance_windows").WillReturnRows(windowRows)
	mock.ExpectExec("INSERT INTO segregated_email").WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.Handle(context.Background(), delivery(t, alertFixture()))
	require.NoError(t, err)

	assert.Empty(t, pub.queues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	c, _, pub := newClassifier(t, &fakeGenerator{}, classifierConfig())

	err := c.Handle(context.Background(), amqp.Delivery{Body: []byte("not json")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrPermanent))

	err = c.Handle(context.Background(), delivery(t, domain.AlertMessage{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrPermanent))
	assert.Empty(t, pub.queues)
}

func TestParseClassification(t *testing.T) {
	reply := "Here is the result:\n```json\n" +
		`{"priority": "p2", "type": "Actionable", "trigger_name": " CPU load high "}` +
		"\n```"
	got, err := parseClassification(reply)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.Priority)
	assert.Equal(t, "CPU load high", got.TriggerName)

	_, err = parseClassification("no json here")
	assert.Error(t, err)
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, domain.PriorityP1, normalizePriority("p1"))
	assert.Equal(t, domain.PriorityP1, normalizePriority("Critical"))
	assert.Equal(t, domain.PriorityP2, normalizePriority("HIGH"))
	assert.Equal(t, domain.PriorityInformational, normalizePriority("info"))
	assert.Equal(t, domain.PriorityNA, normalizePriority("n/a"))
	assert.Equal(t, domain.PriorityNA, normalizePriority(""))
	assert.Equal(t, "Custom", normalizePriority("Custom"))
}

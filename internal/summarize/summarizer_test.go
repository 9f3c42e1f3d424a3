package summarize

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
	"github.com/ignite/alertflow/internal/store"
)

type fakePublisher struct {
	queues   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.queues = append(p.queues, queue)
	p.payloads = append(p.payloads, body)
	return nil
}

func newSummarizer(t *testing.T) (*Summarizer, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &fakePublisher{}
	cfg := &config.Config{Broker: config.BrokerConfig{JiraQueue: "jira_q"}}
	return New(store.New(db), pub, cfg), mock, pub
}

func classifiedAlert() domain.AlertMessage {
	return domain.AlertMessage{
		EmailID:           "abc123",
		Subject:           "CPU load high on DEPROD01",
		Priority:          "P1",
		TriggerName:       "CPU load high",
		ResourceName:      "DEPROD01",
		GeneratedSummary:  "CPU load is critically high. ",
		RecommendedAction: "Check top processes.",
	}
}

func deliver(t *testing.T, msg domain.AlertMessage) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func TestHandleUsesStoredSummary(t *testing.T) {
	s, mock, pub := newSummarizer(t)

	rows := sqlmock.NewRows([]string{"email_id", "summary", "inserted_at", "status"}).
		AddRow("abc123", "stored summary text", time.Now(), true)
	mock.ExpectQuery("SELECT (.+) FROM summary_table").WillReturnRows(rows)

	err := s.Handle(context.Background(), deliver(t, classifiedAlert()))
	require.NoError(t, err)

	require.Equal(t, []string{"jira_q"}, pub.queues)
	var out domain.AlertMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &out))
	assert.Equal(t, "stored summary text", out.GeneratedSummary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWritesMissingSummary(t *testing.T) {
	s, mock, pub := newSummarizer(t)

	mock.ExpectQuery("SELECT (.+) FROM summary_table").
		WillReturnRows(sqlmock.NewRows([]string{"email_id"}))
	mock.ExpectExec("INSERT INTO summary_table").
		WithArgs("abc123", "CPU load is critically high. Check top processes.", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Handle(context.Background(), deliver(t, classifiedAlert()))
	require.NoError(t, err)

	require.Len(t, pub.payloads, 1)
	var out domain.AlertMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &out))
	assert.Equal(t, "CPU load is critically high. Check top processes.", out.GeneratedSummary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	s, _, pub := newSummarizer(t)

	err := s.Handle(context.Background(), amqp.Delivery{Body: []byte("not json")})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrPermanent))

	err = s.Handle(context.Background(), deliver(t, domain.AlertMessage{}))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrPermanent))
	assert.Empty(t, pub.queues)
}

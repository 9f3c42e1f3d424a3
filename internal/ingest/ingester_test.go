package ingest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/pkg/distlock"
	"github.com/ignite/alertflow/internal/store"
)

type fakeLock struct{ available bool }

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) { return l.available, nil }
func (l *fakeLock) Release(ctx context.Context) error         { return nil }

type fakeMailbox struct {
	emails []InboundEmail
	calls  int
}

func (m *fakeMailbox) Fetch(ctx context.Context, since time.Time) ([]InboundEmail, error) {
	m.calls++
	return m.emails, nil
}

type fakePublisher struct {
	published [][]byte
	queues    []string
	calls     int
	failFirst bool
}

func (p *fakePublisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.calls++
	if p.failFirst && p.calls == 1 {
		return errors.New("channel closed")
	}
	p.queues = append(p.queues, queue)
	p.published = append(p.published, body)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Broker: config.BrokerConfig{ClassQueue: "class_q"},
		Mailbox: config.MailboxConfig{
			SenderAllowlist: []string{"controlup@bitzer.de"},
		},
		Scheduler: config.SchedulerConfig{IntervalUnit: "minutes", IntervalValue: 10},
		Storage:   config.StorageConfig{MessageRoot: filepath.Join(t.TempDir(), "msgs")},
	}
}

func newIngester(t *testing.T, mailbox MailboxClient, lock distlock.DistLock) (*Ingester, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	pub := &fakePublisher{}
	ing := New(store.New(db), pub, mailbox, testConfig(t), lock)
	ing.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	return ing, mock, pub
}

func TestRunPublishesAllowedSenders(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	mailbox := &fakeMailbox{emails: []InboundEmail{
		{
			Sender:     `"ControlUp" <ControlUp@bitzer.de>`,
			Subject:    "CPU load high on DEPROD01",
			Body:       "Trigger Name: CPU load high\r\nResource: DEPROD01",
			ReceivedAt: received,
		},
		{
			Sender:     "spam@elsewhere.com",
			Subject:    "totally unrelated",
			Body:       "buy now",
			ReceivedAt: received,
		},
	}}

	ing, mock, pub := newIngester(t, mailbox, &fakeLock{available: true})

	mock.ExpectQuery("SELECT value FROM configuration").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT last_run_time FROM job_table").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO raw_emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE raw_emails SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO job_table").WillReturnResult(sqlmock.NewResult(1, 1))

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Dropped)
	require.Len(t, pub.published, 1)
	assert.Equal(t, []string{"class_q"}, pub.queues)
	assert.Contains(t, string(pub.published[0]), "CPU load high on DEPROD01")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRecordsBatchDuplicates(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	alert := InboundEmail{
		Sender:     "controlup@bitzer.de",
		Subject:    "CPU load high on DEPROD01",
		Body:       "Trigger Name: CPU load high\r\n",
		ReceivedAt: received,
	}
	second := alert
	second.ReceivedAt = received.Add(time.Minute)
	mailbox := &fakeMailbox{emails: []InboundEmail{alert, second}}

	ing, mock, pub := newIngester(t, mailbox, &fakeLock{available: true})

	mock.ExpectQuery("SELECT value FROM configuration").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT last_run_time FROM job_table").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO raw_emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE raw_emails SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO duplicate_emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO job_table").WillReturnResult(sqlmock.NewResult(1, 1))

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Len(t, pub.published, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunContinuesAfterPublishFailure(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	mailbox := &fakeMailbox{emails: []InboundEmail{
		{
			Sender:     "controlup@bitzer.de",
			Subject:    "CPU load high on DEPROD01",
			Body:       "Trigger Name: CPU load high",
			ReceivedAt: received,
		},
		{
			Sender:     "controlup@bitzer.de",
			Subject:    "Disk space low on DEPROD02",
			Body:       "Trigger Name: Disk space low",
			ReceivedAt: received.Add(time.Minute),
		},
	}}

	ing, mock, pub := newIngester(t, mailbox, &fakeLock{available: true})
	pub.failFirst = true

	mock.ExpectQuery("SELECT value FROM configuration").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT last_run_time FROM job_table").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO raw_emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raw_emails").WillReturnResult(sqlmock.NewResult(0, 1))
	// only the message that made it onto the queue is marked published
	mock.ExpectExec("UPDATE raw_emails SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO job_table").WillReturnResult(sqlmock.NewResult(1, 1))

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, pub.calls)
	require.Len(t, pub.published, 1)
	assert.Contains(t, string(pub.published[0]), "Disk space low on DEPROD02")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsAlreadyPublished(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	mailbox := &fakeMailbox{emails: []InboundEmail{{
		Sender:     "controlup@bitzer.de",
		Subject:    "CPU load high on DEPROD01",
		Body:       "Trigger Name: CPU load high",
		ReceivedAt: received,
	}}}

	ing, mock, pub := newIngester(t, mailbox, &fakeLock{available: true})

	mock.ExpectQuery("SELECT value FROM configuration").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT last_run_time FROM job_table").WillReturnError(sql.ErrNoRows)
	// conflict: the email was ingested and published in an earlier run
	mock.ExpectExec("INSERT INTO raw_emails").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM raw_emails").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(true))
	mock.ExpectExec("INSERT INTO job_table").WillReturnResult(sqlmock.NewResult(1, 1))

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Published)
	assert.Empty(t, pub.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkippedWhenLockHeldElsewhere(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	// another instance holds the run lock
	other := distlock.NewRedisLock(client, "alertflow:ingest", time.Minute)
	acquired, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)

	mailbox := &fakeMailbox{}
	lock := distlock.NewRedisLock(client, "alertflow:ingest", time.Minute)
	ing, _, pub := newIngester(t, mailbox, lock)

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Skipped)
	assert.Zero(t, mailbox.calls)
	assert.Empty(t, pub.published)
}

func TestCurrentBodyStripsReplyChain(t *testing.T) {
	body := "Trigger Name: CPU load high\r\nSeverity: Critical\r\n\r\nFrom: Someone\r\nOld quoted text"
	got := CurrentBody(body)
	assert.Contains(t, got, "Trigger Name: CPU load high")
	assert.NotContains(t, got, "Old quoted text")

	marker := "current text\n-----Original Message-----\nprevious"
	assert.Equal(t, "current text", CurrentBody(marker))
}

func TestTriggerField(t *testing.T) {
	assert.Equal(t, "CPU load high", triggerField("Severity: P1\r\nTrigger Name: CPU load high\r\n"))
	assert.Equal(t, "", triggerField("no fields here"))
}

func TestSenderAddress(t *testing.T) {
	assert.Equal(t, "a@b.com", senderAddress(`"Alerts" <A@B.com>`))
	assert.Equal(t, "a@b.com", senderAddress("A@b.com"))
}

package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/alertflow/internal/broker"
	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/pkg/distlock"
	"github.com/ignite/alertflow/internal/pkg/logger"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/store"
)

// JobName identifies the ingest job in the run-history table.
const JobName = "mailbox_ingest"

// Stats summarizes one ingest run.
type Stats struct {
	Skipped    bool // another instance held the run lock
	Fetched    int
	Dropped    int // sender not on the allow-list
	Duplicates int
	Published  int
	Failed     int // save/insert/publish errors; the message stays unpublished
}

// Publisher is the queue-publishing slice of the broker the ingester
// needs. *broker.Broker satisfies it.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

var _ Publisher = (*broker.Broker)(nil)

// Ingester pulls the mailbox on a schedule, persists new alerts and
// feeds them to the classification queue.
type Ingester struct {
	store   *store.Store
	broker  Publisher
	mailbox MailboxClient
	cfg     *config.Config
	lock    distlock.DistLock
	now     func() time.Time
}

// New builds an ingester. The lock serializes runs across instances;
// pass a Redis-backed lock when available, the PG advisory fallback
// otherwise.
func New(st *store.Store, br Publisher, mailbox MailboxClient, cfg *config.Config, lock distlock.DistLock) *Ingester {
	return &Ingester{store: st, broker: br, mailbox: mailbox, cfg: cfg, lock: lock, now: time.Now}
}

var (
	triggerFieldRe = regexp.MustCompile(`(?im)^\s*Trigger Name:\s*(.+?)\s*$`)
	senderAddrRe   = regexp.MustCompile(`<?([\w.-]+@[\w.-]+)>?`)
)

// triggerField pulls the "Trigger Name:" line out of an alert body.
func triggerField(body string) string {
	if m := triggerFieldRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func senderAddress(sender string) string {
	if m := senderAddrRe.FindStringSubmatch(sender); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(strings.TrimSpace(sender))
}

// allowlist resolves the active sender allow-list: the database
// override wins, the static config is the fallback.
func (i *Ingester) allowlist(ctx context.Context) map[string]bool {
	senders, err := i.store.Settings.MailAllowlist(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[Ingester] allow-list override unreadable, using config: %v", err)
		}
		senders = i.cfg.Mailbox.SenderAllowlist
	}
	out := make(map[string]bool, len(senders))
	for _, s := range senders {
		out[strings.ToLower(s)] = true
	}
	return out
}

// window resolves the fetch window start: the last recorded run
// high-water mark, or now minus the floor when the history is
// unreadable or empty.
func (i *Ingester) window(ctx context.Context) time.Time {
	last, err := i.store.Jobs.LastRunTime(ctx, JobName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[Ingester] job history unreadable, falling back: %v", err)
		}
		return i.now().Add(-i.cfg.Mailbox.WindowFloor())
	}
	return last
}

// Run executes one ingest cycle. Concurrent runs are prevented by the
// run lock; a run that loses the lock is skipped, not queued.
func (i *Ingester) Run(ctx context.Context) (Stats, error) {
	acquired, err := i.lock.Acquire(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		log.Printf("[Ingester] run lock held elsewhere, skipping cycle")
		return Stats{Skipped: true}, nil
	}
	defer func() {
		if err := i.lock.Release(context.Background()); err != nil {
			log.Printf("[Ingester] release run lock: %v", err)
		}
	}()

	started := i.now()
	since := i.window(ctx)
	log.Printf("[Ingester] fetching mail since %s", since.Format(time.RFC3339))

	emails, err := i.mailbox.Fetch(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch mailbox: %w", err)
	}

	stats := Stats{Fetched: len(emails)}
	allowed := i.allowlist(ctx)
	seen := make(map[string]string) // batch dedup signature -> first email id
	lastReceived := since

	for _, email := range emails {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if email.ReceivedAt.After(lastReceived) {
			lastReceived = email.ReceivedAt
		}

		sender := senderAddress(email.Sender)
		if !allowed[sender] {
			// unknown senders are dropped without logging the address in clear
			logger.Debug("sender not on allow-list", "sender", sender)
			stats.Dropped++
			continue
		}

		body := CurrentBody(email.Body)
		emailID := domain.ComputeEmailID(email.Subject, email.ReceivedAt)

		signature := strings.Join([]string{
			triggerField(body),
			router.ExtractMachineName("", email.Subject, body),
			email.Subject,
		}, "|")
		if firstID, dup := seen[signature]; dup {
			if err := i.recordDuplicate(ctx, firstID, email); err != nil {
				log.Printf("[Ingester] record duplicate: %v", err)
			}
			stats.Duplicates++
			continue
		}
		seen[signature] = emailID

		// one bad message never aborts the cycle; the rest of the batch
		// and the job-run record still go through
		path, err := i.saveMessage(emailID, email.Body)
		if err != nil {
			log.Printf("[Ingester] save message %s: %v", emailID, err)
			stats.Failed++
			continue
		}

		raw := &domain.RawEmail{
			EmailID:    emailID,
			Sender:     sender,
			Subject:    email.Subject,
			Body:       body,
			EmailPath:  path,
			ReceivedAt: email.ReceivedAt,
		}
		inserted, err := i.store.RawEmails.Insert(ctx, raw)
		if err != nil {
			log.Printf("[Ingester] insert %s: %v", emailID, err)
			stats.Failed++
			continue
		}
		if !inserted {
			published, err := i.store.RawEmails.IsPublished(ctx, emailID)
			if err != nil {
				log.Printf("[Ingester] publish check %s: %v", emailID, err)
				stats.Failed++
				continue
			}
			if published {
				continue
			}
		}

		if err := i.publish(ctx, raw); err != nil {
			log.Printf("[Ingester] publish %s: %v", emailID, err)
			stats.Failed++
			continue
		}
		if err := i.store.RawEmails.MarkPublished(ctx, emailID); err != nil {
			// already on the queue; the next run re-publishes and the
			// classifier's already-classified check absorbs the repeat
			log.Printf("[Ingester] mark published %s: %v", emailID, err)
		}
		stats.Published++
	}

	run := &domain.JobRun{
		JobName:     JobName,
		StartedAt:   started,
		EndedAt:     i.now(),
		LastRunTime: lastReceived,
		Frequency:   i.cfg.Scheduler.Interval().String(),
	}
	if err := i.store.Jobs.InsertRun(ctx, run); err != nil {
		return stats, fmt.Errorf("record job run: %w", err)
	}

	log.Printf("[Ingester] cycle done: fetched=%d published=%d duplicates=%d dropped=%d failed=%d",
		stats.Fetched, stats.Published, stats.Duplicates, stats.Dropped, stats.Failed)
	return stats, nil
}

// saveMessage writes the raw body next to the pipeline as
// <root>/<email_id>.msg and returns the path.
func (i *Ingester) saveMessage(emailID, body string) (string, error) {
	root := i.cfg.Storage.MessageRoot
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(root, emailID+".msg")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (i *Ingester) publish(ctx context.Context, raw *domain.RawEmail) error {
	msg := domain.AlertMessage{
		EmailID:    raw.EmailID,
		Sender:     raw.Sender,
		Subject:    raw.Subject,
		Body:       raw.Body,
		EmailPath:  raw.EmailPath,
		ReceivedAt: raw.ReceivedAt,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return i.broker.Publish(ctx, i.cfg.Broker.ClassQueue, payload)
}

func (i *Ingester) recordDuplicate(ctx context.Context, originalID string, email InboundEmail) error {
	sum := sha256.Sum256([]byte(originalID + "_" + i.now().Format(time.RFC3339Nano)))
	return i.store.Duplicates.Insert(ctx, &domain.DuplicateEmail{
		DuplicateEmailID: hex.EncodeToString(sum[:]),
		EmailID:          originalID,
		Subject:          email.Subject,
		Body:             email.Body,
		Sender:           email.Sender,
		ReceivedAt:       email.ReceivedAt,
	})
}

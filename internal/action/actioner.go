package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/alertflow/internal/broker"
	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/jira"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/store"
	"github.com/ignite/alertflow/internal/teams"
)

// Tracker is the slice of the ticket client this stage uses.
type Tracker interface {
	CreateIssue(ctx context.Context, in jira.CreateIssueInput) (string, error)
	IsOpen(ctx context.Context, key string) bool
	AssignByEmail(ctx context.Context, key, email string) (string, error)
	SetTeamField(ctx context.Context, key, teamName string) bool
	AttachFile(ctx context.Context, key, path string) bool
}

var _ Tracker = (*jira.Client)(nil)

// ChannelNotifier posts an incident card for a team and reports the
// channel it went to.
type ChannelNotifier interface {
	Enabled() bool
	Notify(ctx context.Context, team string, in teams.CardInput) (string, error)
}

var _ ChannelNotifier = (*teams.Notifier)(nil)

// Actioner is the last pipeline stage: it raises the tracker ticket for
// an alert and announces it on the owning team's channel. Ticket
// creation is the only fatal step; assignment, the team field, the
// attachment and the chat card are best-effort.
type Actioner struct {
	store    *store.Store
	tracker  Tracker
	notifier ChannelNotifier
	cfg      *config.Config
	now      func() time.Time
}

// New builds the ticketing stage.
func New(st *store.Store, tracker Tracker, notifier ChannelNotifier, cfg *config.Config) *Actioner {
	return &Actioner{store: st, tracker: tracker, notifier: notifier, cfg: cfg, now: time.Now}
}

// Handle consumes one summarized alert. A nil return acks the
// delivery; errors feed the broker's retry protocol.
func (a *Actioner) Handle(ctx context.Context, d amqp.Delivery) error {
	var msg domain.AlertMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return broker.Permanent(fmt.Errorf("decode summarized alert: %w", err))
	}
	if msg.EmailID == "" {
		return broker.Permanent(errors.New("summarized alert without email_id"))
	}

	// same trigger on the same machine with the ticket still open means
	// this alert is a repeat, not a new incident
	if prev, err := a.openTicketFor(ctx, &msg); err != nil {
		return err
	} else if prev != nil {
		if err := a.recordDuplicate(ctx, prev.EmailID, &msg); err != nil {
			log.Printf("[Actioner] record ticket duplicate: %v", err)
		}
		log.Printf("[Actioner] %s suppressed: ticket %s still open for %s on %s",
			msg.EmailID, prev.TicketID, msg.TriggerName, msg.ResourceName)
		return nil
	}

	key, err := a.tracker.CreateIssue(ctx, jira.CreateIssueInput{
		Summary:     ticketSummary(&msg),
		Description: ticketDescription(&msg),
		Priority:    msg.Priority,
	})
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	log.Printf("[Actioner] created ticket %s for %s", key, msg.EmailID)

	// the configured triage address wins; teams without one get the
	// routing table's responsible person
	assigneeEmail := a.cfg.Jira.AssigneeEmail
	if assigneeEmail == "" {
		assigneeEmail = msg.Assignee
	}
	var assignee string
	if assigneeEmail != "" {
		name, err := a.tracker.AssignByEmail(ctx, key, assigneeEmail)
		if err != nil {
			log.Printf("[Actioner] assign %s: %v", key, err)
		} else {
			assignee = name
		}
	}
	if msg.Team != "" && msg.Team != router.GeneralTeam {
		a.tracker.SetTeamField(ctx, key, msg.Team)
	}
	if msg.EmailPath != "" {
		a.tracker.AttachFile(ctx, key, msg.EmailPath)
	}

	jiraID, err := a.store.Jira.Insert(ctx, &domain.JiraEntry{
		EmailID:    msg.EmailID,
		TicketID:   key,
		AssignedTo: assignee,
		CreatedAt:  a.now(),
	})
	if err != nil {
		return fmt.Errorf("record ticket %s: %w", key, err)
	}

	a.notify(ctx, &msg, key, assignee, jiraID)
	return nil
}

// openTicketFor returns the ticket row of a still-open ticket covering
// the same trigger and machine, or nil when the alert is genuinely new.
func (a *Actioner) openTicketFor(ctx context.Context, msg *domain.AlertMessage) (*domain.JiraEntry, error) {
	if msg.TriggerName == "" || msg.ResourceName == "" {
		return nil, nil
	}
	prev, err := a.store.Jira.LatestTicketFor(ctx, msg.TriggerName, msg.ResourceName, msg.EmailID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if a.tracker.IsOpen(ctx, prev.TicketID) {
		return prev, nil
	}
	return nil, nil
}

func ticketSummary(msg *domain.AlertMessage) string {
	trigger := msg.TriggerName
	if trigger == "" {
		trigger = msg.Subject
	}
	if msg.ResourceName == "" {
		return trigger
	}
	return trigger + " - " + msg.ResourceName
}

// ticketDescription prefers the generated summary; alerts that somehow
// arrive without one fall back to the structured email fields.
func ticketDescription(msg *domain.AlertMessage) string {
	if strings.TrimSpace(msg.GeneratedSummary) != "" {
		return msg.GeneratedSummary
	}
	return jira.BuildDescription(msg.Body)
}

// notify posts the incident card and marks the ticket row notified.
// Chat failures never fail the delivery; the ticket already exists.
func (a *Actioner) notify(ctx context.Context, msg *domain.AlertMessage, key, assignee string, jiraID int64) {
	if a.notifier == nil || !a.notifier.Enabled() {
		return
	}

	infrastructure := msg.Infrastructure
	if infrastructure == "" {
		infrastructure = router.ExtractInfrastructure(msg.Subject)
	}
	if assignee == "" {
		assignee = msg.Assignee
	}

	channel, err := a.notifier.Notify(ctx, msg.Team, teams.CardInput{
		Subject:        msg.Subject,
		Sender:         msg.Sender,
		TriggerName:    msg.TriggerName,
		Priority:       msg.Priority,
		Timestamp:      msg.ReceivedAt,
		MachineName:    msg.ResourceName,
		Infrastructure: infrastructure,
		JiraKey:        key,
		JiraBrowseURL:  a.cfg.Jira.BaseURL,
		Assignee:       assignee,
	})
	if err != nil {
		log.Printf("[Actioner] notify %s: %v", key, err)
		return
	}
	if err := a.store.Jira.MarkNotified(ctx, jiraID, channel); err != nil {
		log.Printf("[Actioner] mark %s notified: %v", key, err)
	}
}

// recordDuplicate files the repeat under the email that owns the open
// ticket, so the duplicate row points back at the original incident.
func (a *Actioner) recordDuplicate(ctx context.Context, originalEmailID string, msg *domain.AlertMessage) error {
	return a.store.Duplicates.Insert(ctx, &domain.DuplicateEmail{
		DuplicateEmailID: msg.EmailID,
		EmailID:          originalEmailID,
		Subject:          msg.Subject,
		Body:             msg.Body,
		Sender:           msg.Sender,
		ReceivedAt:       msg.ReceivedAt,
	})
}

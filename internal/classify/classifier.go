package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/alertflow/internal/broker"
	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/llm"
	"github.com/ignite/alertflow/internal/maintenance"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/store"
)

// Publisher is the queue-publishing slice of the broker the classifier
// needs to hand alerts to the next stage.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

var _ Publisher = (*broker.Broker)(nil)

// Classifier is the first pipeline stage. It turns a raw alert email
// into a classified record (priority, type, resource, trigger, summary,
// recommended action) and decides whether the alert moves on to
// summarization or stops here.
type Classifier struct {
	store  *store.Store
	broker Publisher
	gen    llm.TextGenerator
	pool   *llm.Pool
	router *router.Router
	maint  *maintenance.Checker
	cfg    *config.Config
	now    func() time.Time
}

// New builds a classifier. The pool is shared with the other model
// callers so total model concurrency stays bounded.
func New(st *store.Store, br Publisher, gen llm.TextGenerator, pool *llm.Pool,
	rt *router.Router, maint *maintenance.Checker, cfg *config.Config) *Classifier {
	return &Classifier{
		store:  st,
		broker: br,
		gen:    gen,
		pool:   pool,
		router: rt,
		maint:  maint,
		cfg:    cfg,
		now:    time.Now,
	}
}

// gracefulShutdownRe matches operator-initiated shutdowns; those alerts
// are informational no matter what the model says.
var gracefulShutdownRe = regexp.MustCompile(`(?i)machine\s+shut\s*down\s+gracefully`)

// classification is the JSON shape the model is asked to return.
type classification struct {
	Priority          string `json:"priority"`
	Type              string `json:"type"`
	ResourceName      string `json:"resource_name"`
	TriggerName       string `json:"trigger_name"`
	GeneratedSummary  string `json:"generated_summary"`
	RecommendedAction string `json:"recommended_action"`
}

const classifySystem = `You are an IT operations alert triage assistant. You read alert emails
from a monitoring tool and classify them. Respond with a single JSON object only, no prose,
with the keys: priority (one of P1, P2, P3, Informational, NA), type (Actionable or
Informational), resource_name (the affected machine or service), trigger_name (the monitoring
trigger that fired), generated_summary (2-4 sentences describing the incident), and
recommended_action (the concrete next step for the on-call engineer, or "N/A").`

// Handle consumes one message from the classification queue. A nil
// return acks the delivery; errors feed the broker's retry protocol.
func (c *Classifier) Handle(ctx context.Context, d amqp.Delivery) error {
	var msg domain.AlertMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return broker.Permanent(fmt.Errorf("decode alert: %w", err))
	}
	if msg.EmailID == "" {
		return broker.Permanent(errors.New("alert without email_id"))
	}

	// already classified and finalized, e.g. a redelivery after restart
	if existing, err := c.store.Segregation.Get(ctx, msg.EmailID); err == nil && existing.Status {
		log.Printf("[Classifier] %s already classified, skipping", msg.EmailID)
		return nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	result, err := c.classify(ctx, &msg)
	if err != nil {
		return err
	}

	machine := router.ExtractMachineName(result.ResourceName, msg.Subject, msg.Body)
	if machine != "" {
		result.ResourceName = machine
	}

	match := c.router.Match(result.TriggerName)
	if match.Mapping != nil {
		if match.Mapping.Priority != "" {
			result.Priority = normalizePriority(match.Mapping.Priority)
		}
		if match.Mapping.RecommendedAction != "" {
			result.RecommendedAction = match.Mapping.RecommendedAction
		}
	}

	c.enrichWithServerRole(ctx, machine, result)

	seg := &domain.SegregatedEmail{
		EmailID:           msg.EmailID,
		Priority:          result.Priority,
		Type:              result.Type,
		ResourceName:      result.ResourceName,
		TriggerName:       result.TriggerName,
		GeneratedSummary:  result.GeneratedSummary,
		RecommendedAction: result.RecommendedAction,
		Status:            true,
	}

	if c.maint != nil && machine != "" {
		res, err := c.maint.Check(ctx, machine)
		if err != nil {
			log.Printf("[Classifier] maintenance check failed, not suppressing: %v", err)
		} else if res.Suppressed {
			if err := c.store.Segregation.Upsert(ctx, seg); err != nil {
				return err
			}
			log.Printf("[Classifier] %s suppressed: %s in maintenance", msg.EmailID, res.Server)
			return nil
		}
	}

	if c.cfg.Dedup.WindowEnabled && result.TriggerName != "" && result.ResourceName != "" {
		since := c.now().Add(-c.cfg.Dedup.Window())
		priorID, err := c.store.Segregation.RecentAlertID(ctx, result.TriggerName, result.ResourceName, msg.EmailID, since)
		if err != nil {
			return err
		}
		if priorID != "" {
			if err := c.store.Segregation.Upsert(ctx, seg); err != nil {
				return err
			}
			if err := c.recordDuplicate(ctx, priorID, &msg); err != nil {
				log.Printf("[Classifier] record window duplicate: %v", err)
			}
			log.Printf("[Classifier] %s suppressed: same trigger on %s within %s of %s",
				msg.EmailID, result.ResourceName, c.cfg.Dedup.Window(), priorID)
			return nil
		}
	}

	if err := c.store.Segregation.Upsert(ctx, seg); err != nil {
		return err
	}

	if result.Priority != domain.PriorityP1 && result.Priority != domain.PriorityP2 {
		log.Printf("[Classifier] %s classified %s/%s, stopping here",
			msg.EmailID, result.Priority, result.Type)
		return nil
	}

	summary := result.GeneratedSummary
	if result.RecommendedAction != "" && result.RecommendedAction != "N/A" {
		summary = result.GeneratedSummary + "\n Recommended Actions:" + result.RecommendedAction
	}
	if err := c.store.Summaries.Upsert(ctx, msg.EmailID, summary, true); err != nil {
		return err
	}

	msg.Priority = result.Priority
	msg.Type = result.Type
	msg.ResourceName = result.ResourceName
	msg.TriggerName = result.TriggerName
	msg.GeneratedSummary = result.GeneratedSummary
	msg.RecommendedAction = result.RecommendedAction
	msg.Team = match.Team
	msg.Infrastructure = router.ExtractInfrastructure(msg.Subject)
	if match.Mapping != nil {
		msg.Assignee = match.Mapping.ResponsiblePersons
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal classified alert: %w", err)
	}
	if err := c.broker.Publish(ctx, c.cfg.Broker.SummQueue, payload); err != nil {
		return err
	}
	log.Printf("[Classifier] %s classified %s, queued for summarization (team %s)",
		msg.EmailID, result.Priority, match.Team)
	return nil
}

// classify runs the model passes for one alert. Operator-initiated
// graceful shutdowns bypass the model entirely.
func (c *Classifier) classify(ctx context.Context, msg *domain.AlertMessage) (*classification, error) {
	if gracefulShutdownRe.MatchString(msg.Subject) || gracefulShutdownRe.MatchString(msg.Body) {
		return &classification{
			Priority:          domain.PriorityInformational,
			Type:              "Informational",
			ResourceName:      router.ExtractMachineName("", msg.Subject, msg.Body),
			TriggerName:       "Machine shut down gracefully",
			GeneratedSummary:  "The machine was shut down gracefully by an operator. No incident response is required.",
			RecommendedAction: "N/A",
		}, nil
	}

	first, err := c.generate(ctx, classifySystem, firstPassPrompt(msg))
	if err != nil {
		return nil, fmt.Errorf("classification pass: %w", err)
	}
	result, err := parseClassification(first)
	if err != nil {
		return nil, fmt.Errorf("classification pass: %w", err)
	}

	// second pass: refine against the trigger reference when the first
	// pass produced a trigger we can match
	if match := c.router.Match(result.TriggerName); match.Mapping != nil {
		second, err := c.generate(ctx, classifySystem, refinePrompt(msg, result, match.Mapping))
		if err != nil {
			log.Printf("[Classifier] refinement pass failed, keeping first pass: %v", err)
		} else if refined, err := parseClassification(second); err != nil {
			log.Printf("[Classifier] refinement pass unparseable, keeping first pass: %v", err)
		} else {
			merge(result, refined)
		}
	}

	result.Priority = normalizePriority(result.Priority)
	return result, nil
}

func (c *Classifier) generate(ctx context.Context, system, prompt string) (string, error) {
	var out string
	err := c.pool.Do(ctx, func() error {
		var err error
		out, err = c.gen.Generate(ctx, system, prompt)
		return err
	})
	return out, err
}

func firstPassPrompt(msg *domain.AlertMessage) string {
	var b strings.Builder
	b.WriteString("Classify this monitoring alert email.\n\n")
	b.WriteString("Subject: " + msg.Subject + "\n\n")
	b.WriteString("Body:\n" + msg.Body + "\n")
	return b.String()
}

func refinePrompt(msg *domain.AlertMessage, first *classification, m *domain.TriggerMapping) string {
	var b strings.Builder
	b.WriteString("Refine this alert classification using the trigger reference entry below. ")
	b.WriteString("The reference priority and recommended action are authoritative when they apply.\n\n")
	b.WriteString("Subject: " + msg.Subject + "\n\n")
	fmt.Fprintf(&b, "Current classification:\n%s\n\n", mustJSON(first))
	fmt.Fprintf(&b, "Trigger reference:\ntrigger: %s\ncategory: %s\npriority: %s\nactionable: %s\nrecommended action: %s\n",
		m.TriggerName, m.Category, m.Priority, m.Actionable, m.RecommendedAction)
	return b.String()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// merge overlays non-empty refinement fields on the first pass.
func merge(dst, src *classification) {
	if src.Priority != "" {
		dst.Priority = src.Priority
	}
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.ResourceName != "" {
		dst.ResourceName = src.ResourceName
	}
	if src.TriggerName != "" {
		dst.TriggerName = src.TriggerName
	}
	if src.GeneratedSummary != "" {
		dst.GeneratedSummary = src.GeneratedSummary
	}
	if src.RecommendedAction != "" {
		dst.RecommendedAction = src.RecommendedAction
	}
}

// parseClassification extracts the JSON object from a model reply,
// tolerating code fences and surrounding prose.
func parseClassification(reply string) (*classification, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}
	var out classification
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}
	out.Priority = strings.TrimSpace(out.Priority)
	out.Type = strings.TrimSpace(out.Type)
	out.ResourceName = strings.TrimSpace(out.ResourceName)
	out.TriggerName = strings.TrimSpace(out.TriggerName)
	return &out, nil
}

// normalizePriority maps model and reference spellings onto the
// canonical priority set.
func normalizePriority(p string) string {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "P1", "1", "HIGHEST", "CRITICAL":
		return domain.PriorityP1
	case "P2", "2", "HIGH":
		return domain.PriorityP2
	case "P3", "3", "MEDIUM":
		return domain.PriorityP3
	case "INFORMATIONAL", "INFO", "LOW":
		return domain.PriorityInformational
	case "NA", "N/A", "NONE", "":
		return domain.PriorityNA
	default:
		return strings.TrimSpace(p)
	}
}

// enrichWithServerRole prepends the inventory description of the
// affected machine so the summary carries what the box is for.
func (c *Classifier) enrichWithServerRole(ctx context.Context, machine string, result *classification) {
	if machine == "" {
		return
	}
	servers, err := c.store.Servers.ByComputerName(ctx, machine)
	if err != nil {
		log.Printf("[Classifier] server inventory lookup: %v", err)
		return
	}
	if len(servers) == 0 {
		return
	}

	var desc string
	switch c.cfg.Routing.GroupStrategy {
	case "merge":
		seen := map[string]bool{}
		var parts []string
		for _, s := range servers {
			if s.DescriptionFunction != "" && !seen[s.DescriptionFunction] {
				seen[s.DescriptionFunction] = true
				parts = append(parts, s.DescriptionFunction)
			}
		}
		desc = strings.Join(parts, "; ")
	default: // first-exact
		desc = servers[0].DescriptionFunction
	}
	if desc == "" {
		return
	}
	result.GeneratedSummary = fmt.Sprintf("Server Description: %s\n\n%s", desc, result.GeneratedSummary)
}

// recordDuplicate files the suppressed repeat under the prior alert's
// email id, mirroring the cross-ticket dedup in the action stage.
func (c *Classifier) recordDuplicate(ctx context.Context, priorEmailID string, msg *domain.AlertMessage) error {
	return c.store.Duplicates.Insert(ctx, &domain.DuplicateEmail{
		DuplicateEmailID: msg.EmailID,
		EmailID:          priorEmailID,
		Subject:          msg.Subject,
		Body:             msg.Body,
		Sender:           msg.Sender,
		ReceivedAt:       msg.ReceivedAt,
	})
}

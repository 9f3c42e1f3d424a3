package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/alertflow/internal/broker"
	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/store"
)

// Publisher is the queue-publishing slice of the broker this stage
// needs to hand alerts to ticket creation.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

var _ Publisher = (*broker.Broker)(nil)

// Summarizer is the middle pipeline stage. The classifier already
// produced the summary text; this stage makes sure a summary row exists
// for the email and forwards the alert to ticket creation. Keeping it
// as its own stage isolates summary persistence from both model calls
// and tracker I/O, so a tracker outage never loses summaries.
type Summarizer struct {
	store  *store.Store
	broker Publisher
	cfg    *config.Config
}

// New builds a summarizer stage.
func New(st *store.Store, br Publisher, cfg *config.Config) *Summarizer {
	return &Summarizer{store: st, broker: br, cfg: cfg}
}

// Handle consumes one classified alert. A nil return acks the
// delivery; errors feed the broker's retry protocol.
func (s *Summarizer) Handle(ctx context.Context, d amqp.Delivery) error {
	var msg domain.AlertMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return broker.Permanent(fmt.Errorf("decode classified alert: %w", err))
	}
	if msg.EmailID == "" {
		return broker.Permanent(errors.New("classified alert without email_id"))
	}

	existing, err := s.store.Summaries.Get(ctx, msg.EmailID)
	switch {
	case err == nil:
		// the classifier (or a previous attempt) already wrote the summary
		msg.GeneratedSummary = existing.Summary
	case errors.Is(err, store.ErrNotFound):
		summary := msg.GeneratedSummary
		if msg.RecommendedAction != "" && msg.RecommendedAction != "N/A" {
			summary += msg.RecommendedAction
		}
		if err := s.store.Summaries.Upsert(ctx, msg.EmailID, summary, true); err != nil {
			return err
		}
		msg.GeneratedSummary = summary
	default:
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal summarized alert: %w", err)
	}
	if err := s.broker.Publish(ctx, s.cfg.Broker.JiraQueue, payload); err != nil {
		return err
	}
	log.Printf("[Summarizer] %s summary ready, queued for ticketing", msg.EmailID)
	return nil
}

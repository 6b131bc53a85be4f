// Package redpanda publishes gateway events to Redpanda/Kafka.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// EventVoteRecorded is the event type of a persisted vote.
const EventVoteRecorded = "vote.recorded"

// VoteEvent is the JSON value of a vote record.
type VoteEvent struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Vote       domain.Vote `json:"vote"`
}

// recordProducer is the subset of *kgo.Client used for publishing.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// VotePublisher sends one record per recorded vote, keyed by conversation id
// so that votes of a conversation stay ordered within a partition.
type VotePublisher struct {
	client recordProducer
	topic  string
	now    func() time.Time
}

// NewVotePublisher connects to brokers and makes sure topic exists.
func NewVotePublisher(ctx context.Context, brokers []string, topic string) (*VotePublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewVotePublisher: no seed brokers provided")
	}
	slog.Info("creating redpanda vote publisher", slog.Any("brokers", brokers), slog.String("topic", topic))

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RequestRetries(5),
		kgo.DialTimeout(10*time.Second),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewVotePublisher: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := ensureTopic(tctx, client, topic, 1, 1); err != nil {
		slog.Warn("failed to ensure vote topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	return newVotePublisher(client, topic), nil
}

func newVotePublisher(client recordProducer, topic string) *VotePublisher {
	return &VotePublisher{client: client, topic: topic, now: time.Now}
}

// PublishVote produces a vote.recorded event and waits for the broker ack.
func (p *VotePublisher) PublishVote(ctx context.Context, v domain.Vote) error {
	ev := VoteEvent{
		ID:         uuid.NewString(),
		Type:       EventVoteRecorded,
		OccurredAt: p.now().UTC(),
		Vote:       v,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishVote: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(v.ConversationID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventVoteRecorded)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.PublishVote: %w", err)
	}
	slog.Debug("vote event published", slog.String("event_id", ev.ID), slog.String("conversation_id", v.ConversationID))
	return nil
}

// Close flushes and closes the underlying client.
func (p *VotePublisher) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}

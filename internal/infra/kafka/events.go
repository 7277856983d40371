package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/config"
)

const (
	schemaVersion = "1.0"

	EventSignupInitiated = "signup.initiated"
	EventAccountCreated  = "account.created"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, subject string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		Subject:   subject,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(subject),
		Value: sarama.ByteEncoder(body),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSignupInitiated publishes signup.initiated events keyed by email.
func (p *EventPublisher) PublishSignupInitiated(ctx context.Context, event domain.SignupInitiatedEvent) error {
	payload := struct {
		Email          string    `json:"email"`
		RegistrantType string    `json:"registrant_type"`
		ResendCount    int       `json:"resend_count"`
		Delivered      bool      `json:"delivered"`
		OccurredAt     time.Time `json:"occurred_at"`
	}{
		Email:          event.Email,
		RegistrantType: string(event.RegistrantType),
		ResendCount:    event.ResendCount,
		Delivered:      event.Delivered,
		OccurredAt:     event.OccurredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventSignupInitiated, event.Email, event.OccurredAt, payload)
}

// PublishAccountCreated publishes account.created events keyed by account code.
func (p *EventPublisher) PublishAccountCreated(ctx context.Context, event domain.AccountCreatedEvent) error {
	payload := struct {
		AccountCode    string         `json:"account_code"`
		Email          string         `json:"email"`
		Mobile         string         `json:"mobile"`
		RegistrantType string         `json:"registrant_type"`
		CreatedAt      time.Time      `json:"created_at"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		AccountCode:    event.AccountCode,
		Email:          event.Email,
		Mobile:         event.Mobile,
		RegistrantType: string(event.RegistrantType),
		CreatedAt:      event.CreatedAt.UTC(),
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventAccountCreated, event.AccountCode, event.CreatedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)

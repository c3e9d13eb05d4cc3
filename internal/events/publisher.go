// Package events fans auth lifecycle events out to Kafka and the
// ClickHouse audit table. Event emission is best effort: a broker or
// sink failure is logged and never surfaces into the auth flow.
package events

import (
	"context"
	"encoding/json"
	"time"

	"shop-auth/internal/client"
	"shop-auth/internal/models"
	"shop-auth/internal/util"
)

const auditInsert = `INSERT INTO auth_audit (event_type, phone_hash, user_id, ip_address, details, event_time)`

// Publisher emits auth events. Either sink may be nil, in which case it
// is skipped; a Publisher with both sinks nil is a no-op.
type Publisher struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
}

func NewPublisher(kafka *client.KafkaProducer, clickhouse *client.ClickHouseClient) *Publisher {
	return &Publisher{kafka: kafka, clickhouse: clickhouse}
}

// Publish emits one event to every configured sink.
func (p *Publisher) Publish(ctx context.Context, event models.AuthEvent) {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	if p.kafka != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("failed to marshal auth event", util.ErrorField(err))
			return
		}
		if err := p.kafka.ProduceMessage(ctx, []byte(event.PhoneHash), payload, nil); err != nil {
			util.Warn("failed to publish auth event",
				util.String("event_type", event.EventType),
				util.ErrorField(err))
		}
	}

	if p.clickhouse != nil {
		rows := [][]interface{}{{
			event.EventType,
			event.PhoneHash,
			event.UserID,
			event.IPAddress,
			event.Details,
			event.EventTime,
		}}
		if err := p.clickhouse.BatchInsert(ctx, auditInsert, rows); err != nil {
			util.Warn("failed to audit auth event",
				util.String("event_type", event.EventType),
				util.ErrorField(err))
		}
	}
}

func (p *Publisher) Close() {
	if p.kafka != nil {
		p.kafka.Close()
	}
	if p.clickhouse != nil {
		p.clickhouse.Close()
	}
}

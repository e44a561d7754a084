// Package rabbitmq implements the settlement relay: pending payments are
// published to a durable exchange for the external settlement layer, which
// turns completed-job fees into transfers.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

var _ port.SettlementRelay = (*SettlementRelay)(nil)

type SettlementRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewSettlementRelay dials the broker and declares the settlement exchange.
func NewSettlementRelay(url, exchange string, log *zap.Logger) (*SettlementRelay, error) {
	if exchange == "" {
		exchange = "settlement.direct"
	}

	var conn *amqp.Connection
	var err error

	// Retry connection up to 10 times with backoff
	maxRetries := 10
	for i := 1; i <= maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				if declErr := ch.ExchangeDeclare(
					exchange, // name
					"direct", // kind
					true,     // durable
					false,    // auto-delete
					false,    // internal
					false,    // no-wait
					nil,      // arguments
				); declErr != nil {
					conn.Close()
					return nil, declErr
				}
				return &SettlementRelay{
					conn:     conn,
					ch:       ch,
					exchange: exchange,
					log:      log,
				}, nil
			}
			err = chErr
			conn.Close()
		}

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		// Simple incremental backoff
		time.Sleep(time.Duration(i*2) * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

type paymentMessage struct {
	NodeID string `json:"node_id"`
	JobID  string `json:"job_id"`
	Amount string `json:"amount"`
}

// PublishPaymentPending hands a payment.pending record to the settlement
// layer. Persistent delivery: the broker holds it until settlement consumes.
func (r *SettlementRelay) PublishPaymentPending(ctx context.Context, nodeID string, payment domain.PendingPayment) error {
	body, err := json.Marshal(paymentMessage{
		NodeID: nodeID,
		JobID:  payment.JobID,
		Amount: payment.Amount,
	})
	if err != nil {
		return err
	}

	err = r.ch.PublishWithContext(ctx,
		r.exchange,        // Exchange
		"payment.pending", // Routing key
		false,             // Mandatory
		false,             // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})

	if err != nil {
		r.log.Error("Failed to publish payment", zap.String("job_id", payment.JobID), zap.Error(err))
		return err
	}

	r.log.Info("Published pending payment", zap.String("job_id", payment.JobID), zap.String("node_id", nodeID))
	return nil
}

// Close tears down the channel and connection.
func (r *SettlementRelay) Close() error {
	if err := r.ch.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

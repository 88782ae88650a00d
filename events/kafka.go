/*
Package events publishes committed loan lifecycle changes.

PURPOSE:
  loan.Service announces every successful mutation through loan.Publisher.
  KafkaPublisher serializes those events to JSON and writes them to a topic,
  keyed by employee id so each employee's history stays ordered within a
  partition.

DELIVERY:
  Publish never blocks the caller: events go through a buffered channel and a
  single writer goroutine. When the buffer is full the event is dropped and a
  warning is logged. Close drains what is already buffered.

SEE ALSO:
  - loan/repository.go: Event, Publisher
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/loan"
)

var jsonMarshal = json.Marshal

const defaultBufferSize = 1000

// KafkaWriter is the part of *kafka.Writer the publisher uses.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON document written for each event.
type Message struct {
	ID          string          `json:"id"`
	Type        loan.EventType  `json:"type"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Transaction *TransactionDoc `json:"transaction,omitempty"`
	Previous    *TransactionDoc `json:"previous,omitempty"`
}

// TransactionDoc is the wire form of a transaction inside a Message.
type TransactionDoc struct {
	LoanCompanyID      string `json:"loan_company_id"`
	BorrowingCompanyID string `json:"borrowing_company_id"`
	EmployeeID         string `json:"employee_id"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	TotalCost          string `json:"total_cost"`
	Status             string `json:"status"`
}

func docOf(tx *loan.Transaction) *TransactionDoc {
	if tx == nil {
		return nil
	}
	return &TransactionDoc{
		LoanCompanyID:      tx.Key.LoanCompanyID,
		BorrowingCompanyID: tx.Key.BorrowingCompanyID,
		EmployeeID:         tx.Key.EmployeeID,
		StartDate:          tx.Key.StartDate.String(),
		EndDate:            tx.EndDate.String(),
		TotalCost:          tx.TotalCost.String(),
		Status:             tx.Status,
	}
}

// KafkaPublisher implements loan.Publisher on top of a Kafka writer.
type KafkaPublisher struct {
	writer    KafkaWriter
	events    chan loan.Event
	logger    *zap.Logger
	closeChan chan struct{}
	closeOnce sync.Once
	done      sync.WaitGroup
	newID     func() string

	// mu orders Publish against Close: once closed is set, nothing more
	// reaches events, so the final drain in eventLoop sees every event.
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher makes sure the topic exists, then starts the writer loop.
func NewKafkaPublisher(ctx context.Context, brokers []string, topic, clientID string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: at least one broker is required")
	}
	if err := ensureTopic(ctx, brokers[0], topic, logger); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport:    &kafka.Transport{ClientID: clientID},
	}
	return newKafkaPublisher(writer, logger, defaultBufferSize), nil
}

func newKafkaPublisher(writer KafkaWriter, logger *zap.Logger, bufferSize int) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:    writer,
		events:    make(chan loan.Event, bufferSize),
		logger:    logger.Named("kafka_publisher"),
		closeChan: make(chan struct{}),
		newID:     func() string { return uuid.NewString() },
	}
	p.done.Add(1)
	go p.eventLoop()
	return p
}

// ensureTopic creates the topic, retrying while the broker is unreachable.
// An error from CreateTopics itself (e.g. the topic already exists) is logged
// and ignored.
func ensureTopic(ctx context.Context, broker, topic string, logger *zap.Logger) error {
	var conn *kafka.Conn
	dial := func() error {
		c, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		return fmt.Errorf("events: dial kafka %s: %w", broker, err)
	}
	defer conn.Close()

	err := conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	})
	if err != nil {
		logger.Warn("failed to create topic (may already exist)", zap.String("topic", topic), zap.Error(err))
	}
	return nil
}

// Publish queues the event. It never blocks.
func (p *KafkaPublisher) Publish(_ context.Context, event loan.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("publisher closed, dropping event", zap.String("event_type", string(event.Type)))
		return
	}

	select {
	case p.events <- event:
	default:
		p.logger.Warn("kafka publisher queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("employee_id", employeeOf(event)),
		)
	}
}

func (p *KafkaPublisher) eventLoop() {
	defer p.done.Done()
	for {
		select {
		case event := <-p.events:
			p.send(context.Background(), event)
		case <-p.closeChan:
			for {
				select {
				case event := <-p.events:
					p.send(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) send(ctx context.Context, event loan.Event) {
	msg := Message{
		ID:          p.newID(),
		Type:        event.Type,
		OccurredAt:  event.OccurredAt.UTC(),
		Transaction: docOf(event.Transaction),
		Previous:    docOf(event.Previous),
	}

	value, err := jsonMarshal(msg)
	if err != nil {
		p.logger.Error("failed to serialize event",
			zap.Error(err),
			zap.String("event_id", msg.ID),
		)
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(employeeOf(event)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		p.logger.Error("failed to publish event",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", msg.ID),
		)
		return
	}
	p.logger.Debug("event published", zap.String("event_type", string(event.Type)), zap.String("event_id", msg.ID))
}

// Close stops accepting events, flushes the buffer and closes the writer.
func (p *KafkaPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.closeChan)
		p.mu.Unlock()
		p.done.Wait()
		err = p.writer.Close()
	})
	return err
}

func employeeOf(event loan.Event) string {
	switch {
	case event.Transaction != nil:
		return event.Transaction.Key.EmployeeID
	case event.Previous != nil:
		return event.Previous.Key.EmployeeID
	}
	return ""
}

// =============================================================================
// NOP
// =============================================================================

// Nop discards every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, loan.Event) {}
func (Nop) Close() error                        { return nil }

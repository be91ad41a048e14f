// internal/events/publisher.go
//
// 將成功轉帳的收據以事件形式發佈到 RabbitMQ。
// 發佈一律在轉帳提交、帳戶鎖釋放之後進行；RabbitMQ 無法連線時改用 Fallback，
// 只記錄日誌不阻擋轉帳。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ledger/internal/ledger"
)

const (
	// DefaultExchange 為預設的 topic exchange。
	DefaultExchange = "ledger.events"

	// RoutingTransferCompleted 為轉帳完成事件的 routing key。
	RoutingTransferCompleted = "transfer.completed"
)

// TransferEvent 為發佈到 broker 的轉帳事件內容。
type TransferEvent struct {
	ReceiptID   string    `json:"receipt_id"`
	FromOwnerID int64     `json:"from_owner_id"`
	ToOwnerID   int64     `json:"to_owner_id"`
	Amount      int64     `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewTransferEvent 由收據建立事件。
func NewTransferEvent(r ledger.Receipt) TransferEvent {
	return TransferEvent{
		ReceiptID:   r.ID.String(),
		FromOwnerID: r.FromOwnerID,
		ToOwnerID:   r.ToOwnerID,
		Amount:      r.Amount,
		Timestamp:   r.Timestamp,
	}
}

// Publisher 為可發佈轉帳事件的物件。
type Publisher interface {
	PublishTransfer(ctx context.Context, receipt ledger.Receipt) error
	Close()
}

// Fallback 為 RabbitMQ 不可用時的 no-op 發佈器。
type Fallback struct {
	Log *zap.Logger
}

func (f *Fallback) PublishTransfer(_ context.Context, r ledger.Receipt) error {
	if f.Log != nil {
		f.Log.Warn("transfer event publish skipped",
			zap.String("component", "events"),
			zap.String("mode", "fallback"),
			zap.String("receipt_id", r.ID.String()),
		)
	}
	return nil
}

func (f *Fallback) Close() {}

// amqpChannel 為 EventProducer 使用到的 channel 方法。
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// EventProducer 持有 RabbitMQ 連線與 channel。
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	exchange string
	log      *zap.Logger
}

// NewEventProducer 連線到 RabbitMQ 並宣告 durable topic exchange。
func NewEventProducer(amqpURL, exchange string, log *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p := newProducer(ch, exchange, log)
	p.conn = conn
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newProducer(ch amqpChannel, exchange string, log *zap.Logger) *EventProducer {
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EventProducer{
		channel:  ch,
		exchange: exchange,
		log:      log.With(zap.String("component", "events")),
	}
}

func (p *EventProducer) declare() error {
	return p.channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	)
}

// PublishTransfer 發佈轉帳完成事件；MessageId 為收據 ID，方便下游去重。
func (p *EventProducer) PublishTransfer(ctx context.Context, r ledger.Receipt) error {
	body, err := json.Marshal(NewTransferEvent(r))
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    r.ID.String(),
		Timestamp:    r.Timestamp,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingTransferCompleted, false, false, msg)
	if err == nil {
		return nil
	}

	p.log.Warn("publish failed; reopening channel", zap.String("receipt_id", r.ID.String()), zap.Error(err))
	if p.conn == nil {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	_ = p.channel.Close()
	p.channel = ch
	if err := p.declare(); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, RoutingTransferCompleted, false, false, msg)
}

// Close 關閉 channel 與連線。
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

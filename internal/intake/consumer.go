package intake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Consumer reads messages from Kafka topics.
type Consumer interface {
	// Start begins consuming from the configured topics.
	Start(ctx context.Context) error
	// Messages returns a channel of raw messages.
	Messages() <-chan Message
	// Close stops the consumer.
	Close() error
}

// Message is a raw message from Kafka.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// KafkaConfig configures a KafkaConsumer.
type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	MinBytes int
	MaxBytes int
}

// KafkaConsumer implements Consumer with one segmentio/kafka-go reader per
// topic. Offsets are committed by the reader's consumer group as messages
// are read.
type KafkaConsumer struct {
	cfg      KafkaConfig
	readers  []*kafka.Reader
	messages chan Message
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewKafkaConsumer creates a Kafka consumer for the configured topics.
func NewKafkaConsumer(cfg KafkaConfig) *KafkaConsumer {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	return &KafkaConsumer{
		cfg:      cfg,
		messages: make(chan Message, 100),
	}
}

// Start begins consuming from all configured topics.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for _, topic := range c.cfg.Topics {
		c.startReader(ctx, topic)
	}
	slog.Info("Intake consumer started", "brokers", c.cfg.Brokers, "group", c.cfg.GroupID, "topics", c.cfg.Topics)
	return nil
}

func (c *KafkaConsumer) startReader(ctx context.Context, topic string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		Topic:    topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: c.cfg.MinBytes,
		MaxBytes: c.cfg.MaxBytes,
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Intake read error", "topic", topic, "error", err)
				continue
			}
			select {
			case c.messages <- Message{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Messages returns the channel of consumed messages.
func (c *KafkaConsumer) Messages() <-chan Message {
	return c.messages
}

// Close stops all readers and closes the message channel once the read
// loops have exited.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.wg.Wait()
	close(c.messages)
	return firstErr
}

// ChannelConsumer is an in-process Consumer backed by a Go channel.
type ChannelConsumer struct {
	ch   chan Message
	once sync.Once
}

// NewChannelConsumer creates an in-process consumer for testing.
func NewChannelConsumer() *ChannelConsumer {
	return &ChannelConsumer{ch: make(chan Message, 100)}
}

// Start is a no-op for the channel consumer.
func (c *ChannelConsumer) Start(context.Context) error { return nil }

// Messages returns the message channel.
func (c *ChannelConsumer) Messages() <-chan Message { return c.ch }

// Close closes the channel. Repeated calls are no-ops.
func (c *ChannelConsumer) Close() error {
	c.once.Do(func() { close(c.ch) })
	return nil
}

// Send pushes a message into the channel consumer.
func (c *ChannelConsumer) Send(msg Message) {
	c.ch <- msg
}

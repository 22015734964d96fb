/*
Package message publishes export activity events to Kafka.  A nil *Publisher is valid
and drops every event, so callers need not check whether Kafka is configured.
*/
package message

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"

	"github.com/Shopify/sarama"
)

// MaxMessageSize is the max message size in bytes for a Kafka message.
const MaxMessageSize = 980 * lfs.Kilo

// Config describes the kafka servers and the topic receiving activity events.
type Config struct {
	Servers    []string
	Topic      string // if empty, "sogsactivity-" + host ID
	BufferSize int    `toml:"buffer_size"` // producer channel buffer size
}

// Activity is one export's outcome.
type Activity struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Output    string `json:"output"`
	Count     int    `json:"count"`
	Bytes     int64  `json:"bytes"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Status strings for Activity.
const (
	StatusDone      = "done"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// NewActivity summarizes an export result and its error.
func NewActivity(res *sog.Result, source, output string, err error) Activity {
	a := Activity{Source: source, Output: output, Status: StatusDone}
	if res != nil {
		a.ID = res.ID
		a.Count = res.Count
		a.Bytes = res.Bytes
		a.ElapsedMS = res.Elapsed.Milliseconds()
	}
	switch {
	case err == nil:
	case sog.IsCancelled(err):
		a.Status = StatusCancelled
	default:
		a.Status = StatusFailed
		a.Error = err.Error()
	}
	return a
}

var topicChars = regexp.MustCompile(`[^a-zA-Z0-9._\-]+`)

// TopicName returns the sanitized activity topic for this configuration.
func (c Config) TopicName(hostID string) string {
	topic := c.Topic
	if topic == "" {
		topic = "sogsactivity-" + hostID
	}
	return topicChars.ReplaceAllString(topic, "-")
}

// NewPublisher connects an async producer.  It returns a nil Publisher and no error when no
// servers are configured.
func (c Config) NewPublisher(hostID string) (*Publisher, error) {
	if len(c.Servers) == 0 {
		return nil, nil
	}
	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = MaxMessageSize
	if c.BufferSize > 0 {
		config.ChannelBufferSize = c.BufferSize
	}
	producer, err := sarama.NewAsyncProducer(c.Servers, config)
	if err != nil {
		return nil, err
	}
	p := NewPublisher(producer, c.TopicName(hostID))
	lfs.Infof("Kafka topic for export activity: %s\n", p.topic)
	return p, nil
}

// Publisher sends activity events through an async producer.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewPublisher wraps an existing producer.  Send errors are logged.
func NewPublisher(producer sarama.AsyncProducer, topic string) *Publisher {
	p := &Publisher{producer: producer, topic: topic, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for err := range producer.Errors() {
			lfs.Errorf("error on kafka send to topic %q: %v\n", err.Msg.Topic, err.Err)
		}
	}()
	return p
}

// Topic returns the activity topic.
func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Publish queues an activity event keyed by the current time.
func (p *Publisher) Publish(a Activity) error {
	if p == nil {
		return nil
	}
	value, err := json.Marshal(a)
	if err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("activity publisher is closed")
	}
	timeKey := sarama.StringEncoder(strconv.FormatInt(time.Now().UnixNano(), 10))
	p.producer.Input() <- &sarama.ProducerMessage{Topic: p.topic, Key: timeKey, Value: sarama.ByteEncoder(value)}
	return nil
}

// Close flushes queued events and shuts down the producer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.producer.AsyncClose()
	<-p.done
	lfs.Infof("Kafka activity producer closed.\n")
	return nil
}

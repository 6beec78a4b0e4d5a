// Package bus publishes bridge events onto NATS for home-automation
// consumers. Subjects follow nvrbridge.<instance>.<topic>.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Topics under the per-instance subject prefix.
const (
	TopicAlarm         = "alarm"
	TopicSnapshot      = "snapshot"
	TopicLink          = "link"
	TopicSearchRecords = "search.records"
	TopicSearchPlates  = "search.plates"
	TopicSearchFaces   = "search.faces"
	TopicPlateDB       = "platedb"
)

// Publisher writes JSON messages to NATS with a short retry for the
// transient reconnect window.
type Publisher struct {
	conn       *nats.Conn
	prefix     string
	maxRetries int
}

// NewPublisher builds a publisher. prefix is typically "nvrbridge".
func NewPublisher(conn *nats.Conn, prefix string, maxRetries int) *Publisher {
	if prefix == "" {
		prefix = "nvrbridge"
	}
	return &Publisher{conn: conn, prefix: prefix, maxRetries: maxRetries}
}

// Publish marshals payload and writes it to <prefix>.<instanceID>.<topic>.
func (p *Publisher) Publish(instanceID, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", topic, err)
	}
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, instanceID, topic)

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("bus: publish %s failed after %d retries: %w", subject, p.maxRetries, err)
}

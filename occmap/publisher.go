package occmap

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic root used when neither env nor config set one
const DefaultPublishPrefix = "casemap"

// ImportedEvent is published after a case import succeeds
type ImportedEvent struct {
	CaseID    string `json:"caseId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Contours  int    `json:"contours"`
	Evidence  int    `json:"evidence"`
	Skipped   int    `json:"skipped"`
	Timestamp int64  `json:"timestamp"`
}

// SavedEvent is published after an edited evidence table is written back
type SavedEvent struct {
	CaseID    string `json:"caseId"`
	Key       string `json:"key"`
	Markers   int    `json:"markers"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher sends case lifecycle events to MQTT.
// Topics are <prefix>/cases/<caseID>/imported and <prefix>/cases/<caseID>/saved.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	now           func() time.Time
}

// NewPublisher creates a case event publisher.
// MQTT_PUBLISH_PREFIX overrides prefix; an empty result falls back to DefaultPublishPrefix.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        false,
		now:           time.Now,
	}
}

// Prefix returns the topic root
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishImported announces a freshly imported case
func (p *Publisher) PublishImported(result *ImportResult) error {
	if result == nil {
		return fmt.Errorf("publish imported: nil result")
	}
	event := ImportedEvent{
		CaseID:    result.Summary.ID,
		Width:     result.Map.Width,
		Height:    result.Map.Height,
		Contours:  len(result.Map.Contours),
		Evidence:  len(result.Evidence),
		Skipped:   len(result.SkippedRows),
		Timestamp: p.now().Unix(),
	}
	return p.publish(p.caseTopic(event.CaseID, "imported"), event)
}

// PublishSaved announces that a case's evidence table was written to key
func (p *Publisher) PublishSaved(caseID, key string, markers int) error {
	event := SavedEvent{
		CaseID:    caseID,
		Key:       key,
		Markers:   markers,
		Timestamp: p.now().Unix(),
	}
	return p.publish(p.caseTopic(caseID, "saved"), event)
}

func (p *Publisher) caseTopic(caseID, event string) string {
	return fmt.Sprintf("%s/cases/%s/%s", p.publishPrefix, caseID, event)
}

func (p *Publisher) publish(topic string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

package services

import (
	"encoding/json"
	"time"

	"audio-converter/models"

	"github.com/nats-io/nats.go"
)

// ConversionEvent is published after each record's run.
type ConversionEvent struct {
	RunID       string           `json:"run_id"`
	RecordID    int64            `json:"record_id"`
	OwnerID     string           `json:"owner_id,omitempty"`
	Stage       models.Stage     `json:"stage"`
	ArtifactURL string           `json:"artifact_url,omitempty"`
	DocumentID  string           `json:"document_id,omitempty"`
	ErrorKind   models.ErrorKind `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
	HappenedAt  int64            `json:"happened_at"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// EventBus publishes conversion lifecycle events to NATS.
type EventBus struct {
	nc     *nats.Conn
	pub    publisher
	prefix string
}

func ConnectEventBus(url, subjectPrefix string) (*EventBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("audio-converter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &EventBus{nc: nc, pub: nc, prefix: subjectPrefix}, nil
}

func (b *EventBus) Completed(evt ConversionEvent) error {
	return b.publishJSON(b.prefix+".completed", evt)
}

func (b *EventBus) Failed(evt ConversionEvent) error {
	return b.publishJSON(b.prefix+".failed", evt)
}

func (b *EventBus) publishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.pub.Publish(subject, data)
}

func (b *EventBus) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}

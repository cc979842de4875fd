package databus

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fatih/structs"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// ProviderEvent is one provider event as published to kafka.
type ProviderEvent struct {
	ID        string                 `json:"id"`
	ClientID  string                 `json:"client_id"`
	ChainID   int                    `json:"chain_id"`
	EventType string                 `json:"event_type"`
	Event     map[string]interface{} `json:"event"`
	EventTime time.Time              `json:"event_time"`

	topic string
}

func (e *ProviderEvent) Serialize() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal provider event: %v", err)
		return nil
	}
	return b
}

func (e *ProviderEvent) Topic() string {
	return e.topic
}

// Key keeps every event of one client on one partition, in order.
func (e *ProviderEvent) Key() string {
	return e.ClientID
}

// EventSink forwards provider events to a topic.
type EventSink struct {
	bus      *DataBus
	topic    string
	clientID string
	chainID  int
	node     *snowflake.Node
	now      func() time.Time
}

func NewEventSink(bus *DataBus, topic, clientID string, chainID int) (*EventSink, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, errors.Wrap(err, "create snowflake node")
	}
	return &EventSink{bus: bus, topic: topic, clientID: clientID, chainID: chainID, node: node, now: time.Now}, nil
}

// Attach publishes every event the emitter dispatches until the returned func is called.
// Publishing failures are logged and reported, never surfaced to the provider.
func (s *EventSink) Attach(e *idconnect.Emitter) (detach func()) {
	return e.Subscribe(func(ev idconnect.Event) {
		if err := s.bus.Publish(s.record(ev)); err != nil {
			log.Error(err)
		}
	})
}

func (s *EventSink) record(ev idconnect.Event) *ProviderEvent {
	return &ProviderEvent{
		ID:        s.node.Generate().String(),
		ClientID:  s.clientID,
		ChainID:   s.chainID,
		EventType: string(ev.Name()),
		Event:     structs.Map(ev),
		EventTime: s.now(),
		topic:     s.topic,
	}
}

package bridge

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"moff.io/idconnect/pkg/errors"
)

// Frame types spoken by the relay.
const (
	frameSub = "sub"
	framePub = "pub"
	frameAck = "ack"
)

// frame is one relay message. Origin is set by the id provider page that published it.
type frame struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
	Origin  string `json:"origin,omitempty"`
}

func (f *frame) Marshal() []byte {
	b, _ := json.Marshal(f)
	return b
}

func parseFrame(data []byte) (*frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("bridge frame is not json")
	}
	root := gjson.ParseBytes(data)
	f := &frame{
		Topic:   root.Get("topic").String(),
		Type:    root.Get("type").String(),
		Payload: root.Get("payload").String(),
		Silent:  root.Get("silent").Bool(),
		Origin:  root.Get("origin").String(),
	}
	if f.Topic == "" || f.Type == "" {
		return nil, errors.Errorf("bridge frame without topic or type: %s", data)
	}
	return f, nil
}

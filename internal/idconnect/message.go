package idconnect

import (
	"encoding/json"
	"net/url"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"moff.io/idconnect/pkg/errors"
)

// MethodAuth is the method discriminator of authorization responses.
const MethodAuth = "auth"

// Status is the outcome reported by the id provider.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Response is a payload returned by the id provider, consumed once by the matching request.
type Response struct {
	Method  string `json:"method"`
	Status  Status `json:"type"`
	State   string `json:"state"`
	Data    string `json:"data,omitempty"`
	Address string `json:"address,omitempty"`
}

// Marshal renders the wire form of the response.
func (r *Response) Marshal() []byte {
	b, _ := json.Marshal(r)
	return b
}

// ParseResponse decodes a message payload of the form
// {method, type, state, data, address}. Every field must be a string.
func ParseResponse(data []byte) (*Response, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.Wrap(ErrInvalidPayload, "not json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.Wrap(ErrInvalidPayload, "not an object")
	}
	var err error
	field := func(name string, required bool) string {
		v := root.Get(name)
		switch {
		case !v.Exists():
			if required {
				err = multierr.Append(err, errors.Errorf("%s missing", name))
			}
			return ""
		case v.Type != gjson.String:
			err = multierr.Append(err, errors.Errorf("%s is not a string", name))
			return ""
		}
		return v.String()
	}
	resp := &Response{
		Method:  field("method", true),
		Status:  Status(field("type", true)),
		State:   field("state", true),
		Data:    field("data", false),
		Address: field("address", false),
	}
	if err == nil {
		err = resp.checkStatus()
	}
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "%v", err)
	}
	return resp, nil
}

// ParseQueryResponse decodes the redirect form ?method=&type=&state=&data=&address=.
func ParseQueryResponse(q url.Values) (*Response, error) {
	resp := &Response{
		Method:  q.Get("method"),
		Status:  Status(q.Get("type")),
		State:   q.Get("state"),
		Data:    q.Get("data"),
		Address: q.Get("address"),
	}
	var err error
	if resp.Method == "" {
		err = multierr.Append(err, errors.New("method missing"))
	}
	if resp.State == "" {
		err = multierr.Append(err, errors.New("state missing"))
	}
	err = multierr.Append(err, resp.checkStatus())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "%v", err)
	}
	return resp, nil
}

func (r *Response) checkStatus() error {
	switch r.Status {
	case StatusSuccess, StatusFailure:
		return nil
	default:
		return errors.Errorf("unknown type %q", r.Status)
	}
}

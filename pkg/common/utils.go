package common

import (
	"encoding/json"

	"moff.io/idconnect/pkg/log"
)

// MustGetJSONString renders m as indented JSON, or "{}" when it cannot be encoded.
func MustGetJSONString(m interface{}) string {
	if m == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		log.Error(err)
		return "{}"
	}
	return string(data)
}

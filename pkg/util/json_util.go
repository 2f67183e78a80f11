package util

import (
	"bytes"
	"encoding/json"
	"io"
)

// StructToJSONReader marshals data into an io.Reader suitable as an HTTP
// request body. Returns nil if the value cannot be marshaled.
func StructToJSONReader(data interface{}) io.Reader {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return bytes.NewReader(jsonBytes)
}

// StructToJSON marshals data into a JSON string, empty on failure.
func StructToJSON(data interface{}) string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(jsonBytes)
}

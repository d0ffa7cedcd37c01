package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrEncode indicates a record could not be serialized
	ErrEncode = errors.New("encode cache record")

	// ErrDecode indicates a stored value is not a valid record
	ErrDecode = errors.New("decode cache record")
)

// Codec converts records to and from their stored string form.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(rec Record) (string, error)
	Decode(value string) (Record, error)
}

// JSONCodec stores records as JSON objects:
//
//	{"status":200,"headers":{"Content-Type":"text/plain"},"body":"hello"}
type JSONCodec struct{}

// storedRecord uses pointers so that missing fields can be told apart from
// zero values.
type storedRecord struct {
	Status  *int               `json:"status"`
	Headers *map[string]string `json:"headers"`
	Body    *string            `json:"body"`
}

// Encode serializes rec. The body and all header names and values must be
// valid UTF-8. A nil header map is stored as an empty object.
func (JSONCodec) Encode(rec Record) (string, error) {
	if !validStatus(rec.Status) {
		return "", fmt.Errorf("%w: invalid status code %d", ErrEncode, rec.Status)
	}
	if !utf8.ValidString(rec.Body) {
		return "", fmt.Errorf("%w: body is not valid UTF-8", ErrEncode)
	}
	headers := rec.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	for name, value := range headers {
		if !utf8.ValidString(name) || !utf8.ValidString(value) {
			return "", fmt.Errorf("%w: header %q is not valid UTF-8", ErrEncode, name)
		}
	}

	data, err := json.Marshal(storedRecord{
		Status:  &rec.Status,
		Headers: &headers,
		Body:    &rec.Body,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return string(data), nil
}

// Decode parses a value produced by Encode. All three fields are required.
// The returned record always has a non-nil header map.
func (JSONCodec) Decode(value string) (Record, error) {
	var stored storedRecord
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch {
	case stored.Status == nil:
		return Record{}, fmt.Errorf("%w: missing status", ErrDecode)
	case stored.Headers == nil || *stored.Headers == nil:
		return Record{}, fmt.Errorf("%w: missing headers", ErrDecode)
	case stored.Body == nil:
		return Record{}, fmt.Errorf("%w: missing body", ErrDecode)
	}
	if !validStatus(*stored.Status) {
		return Record{}, fmt.Errorf("%w: invalid status code %d", ErrDecode, *stored.Status)
	}

	return Record{
		Status:  *stored.Status,
		Headers: *stored.Headers,
		Body:    *stored.Body,
	}, nil
}

// validStatus mirrors the range net/http accepts in WriteHeader.
func validStatus(code int) bool {
	return code >= 100 && code <= 999
}

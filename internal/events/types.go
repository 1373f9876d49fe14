package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	NameURLFetchProgress    = "url-fetch-progress"
	NameEncodeQueueProgress = "encode-queue-progress"
)

var (
	// ErrUnknownEvent marks messages whose event name is not handled.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformed marks messages that fail envelope or payload decoding.
	ErrMalformed = errors.New("malformed event")
)

// Event is the union of decoded push events.
type Event interface {
	EventName() string
}

// URLFetchProgress reports download progress for one URL import.
// Optional fields are nil when the server omitted them.
type URLFetchProgress struct {
	FetchID  string
	Status   string
	Progress *float64
	FilePath *string
	Error    *string
}

func (URLFetchProgress) EventName() string { return NameURLFetchProgress }

// EncodeQueueProgress reports queue activity. Index is nil for queue-level
// events, which carry no per-item state.
type EncodeQueueProgress struct {
	QueueID string
	Index   *int
	Status  string
	File    string
	Error   string
}

func (EncodeQueueProgress) EventName() string { return NameEncodeQueueProgress }

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type urlFetchPayload struct {
	FetchID  string   `json:"fetchId"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress"`
	FilePath *string  `json:"filePath"`
	Error    *string  `json:"error"`
}

type queuePayload struct {
	QueueID string          `json:"queueId"`
	Index   json.RawMessage `json:"index"`
	Status  string          `json:"status"`
	File    string          `json:"file"`
	Error   string          `json:"error"`
}

// Decode turns an SSE event name and data line into an Event.
func Decode(name, data string) (Event, error) {
	switch name {
	case NameURLFetchProgress, NameEncodeQueueProgress:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	payload, err := unwrap([]byte(data))
	if err != nil {
		return nil, err
	}

	if name == NameURLFetchProgress {
		var p urlFetchPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, name, err)
		}
		if strings.TrimSpace(p.FetchID) == "" {
			return nil, fmt.Errorf("%w: %s without fetchId", ErrMalformed, name)
		}
		return URLFetchProgress{
			FetchID:  p.FetchID,
			Status:   strings.TrimSpace(p.Status),
			Progress: p.Progress,
			FilePath: p.FilePath,
			Error:    p.Error,
		}, nil
	}

	var p queuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, name, err)
	}
	if strings.TrimSpace(p.QueueID) == "" {
		return nil, fmt.Errorf("%w: %s without queueId", ErrMalformed, name)
	}
	index, err := decodeIndex(p.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: %s index: %v", ErrMalformed, name, err)
	}
	return EncodeQueueProgress{
		QueueID: p.QueueID,
		Index:   index,
		Status:  strings.TrimSpace(p.Status),
		File:    p.File,
		Error:   p.Error,
	}, nil
}

// unwrap extracts the inner payload from {"data": "<json>"} or
// {"data": {...}}.
func unwrap(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	inner := bytes.TrimSpace(env.Data)
	if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return nil, fmt.Errorf("%w: envelope without data", ErrMalformed)
	}
	switch inner[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(inner, &encoded); err != nil {
			return nil, fmt.Errorf("%w: data string: %v", ErrMalformed, err)
		}
		trimmed := bytes.TrimSpace([]byte(encoded))
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("%w: data is not an object", ErrMalformed)
		}
		return trimmed, nil
	case '{':
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: data is not an object", ErrMalformed)
	}
}

func decodeIndex(raw json.RawMessage) (*int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
	} else {
		text = string(raw)
	}
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("not an integer: %s", raw)
	}
	if value < 0 {
		return nil, fmt.Errorf("negative index %d", value)
	}
	return &value, nil
}

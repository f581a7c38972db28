// Package deadletter defines the record published to a dead-letter topic once
// a consumer gives up on an inbound record.
package deadletter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drblury/eventbus/internal/runtime/jsoncodec"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Reasons recorded alongside dead-lettered records.
const (
	ReasonExhausted = "exhausted"
	ReasonPermanent = "permanent"
	ReasonMalformed = "malformed"
)

// Record is the JSON document written to <topic><suffix>.
type Record struct {
	// Error is the message of the last failure.
	Error string `json:"error"`
	// Original is the payload exactly as it was received. Payloads that are
	// not valid JSON are embedded as a JSON string.
	Original json.RawMessage `json:"original"`
	// Attempts counts handler invocations. Malformed payloads never reach the
	// handler and report zero.
	Attempts int `json:"attempts"`
	// Timestamp is when the record was dead-lettered, in TimestampLayout.
	Timestamp string `json:"ts"`
}

// New builds the dead-letter record for a payload that failed after attempts
// handler invocations.
func New(cause error, payload []byte, attempts int, at time.Time) Record {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return Record{
		Error:     msg,
		Original:  original(payload),
		Attempts:  attempts,
		Timestamp: at.UTC().Format(TimestampLayout),
	}
}

func original(payload []byte) json.RawMessage {
	if len(payload) > 0 && jsoncodec.Valid(payload) {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return cp
	}
	quoted, err := jsoncodec.Marshal(string(payload))
	if err != nil {
		return json.RawMessage(`null`)
	}
	return quoted
}

// Marshal encodes the record for the wire.
func (r Record) Marshal() ([]byte, error) {
	data, err := jsoncodec.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode dead-letter record: %w", err)
	}
	return data, nil
}

// Parse decodes a dead-letter record read back from the DLQ topic.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := jsoncodec.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode dead-letter record: %w", err)
	}
	return r, nil
}

// Time parses the record timestamp.
func (r Record) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, r.Timestamp)
}

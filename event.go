package realtime

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

const (
	fieldEventID = "event_id"
	fieldType    = "type"
)

type (
	// Event is a decoded event mapping. Inbound events carry at least "type"; outbound ones also carry
	// "event_id".
	Event map[string]any

	// Fields are the caller-supplied extras merged into an outbound envelope.
	Fields map[string]any

	// Envelope is an outbound event before it is written to the channel.
	Envelope struct {
		EventID string
		Type    string
		Fields  Fields
	}
)

// Type returns the "type" field, or "" when missing or not a string.
func (e Event) Type() string {
	t, _ := e[fieldType].(string)
	return t
}

// ID returns the "event_id" field, or "" when missing or not a string.
func (e Event) ID() string {
	id, _ := e[fieldEventID].(string)
	return id
}

// DecodeEvent parses an inbound frame. The frame must be a JSON object with a string "type". Numbers
// are kept as json.Number so they reach listeners exactly as sent.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := decodeObject(data, &e); err != nil {
		return nil, errors.Wrap(ErrInvalidEvent, err.Error())
	}
	if e == nil {
		return nil, errors.Wrap(ErrInvalidEvent, "null frame")
	}
	if e.Type() == "" {
		return nil, errors.Wrap(ErrInvalidEvent, "missing \"type\"")
	}
	return e, nil
}

// Event flattens the envelope into the mapping observed by outbound listeners.
func (e Envelope) Event() Event {
	out := make(Event, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out[fieldEventID] = e.EventID
	out[fieldType] = e.Type
	return out
}

// MarshalJSON writes event_id and type first, followed by the fields sorted by key. Struct payloads
// passed to Send therefore lose their declared field order on the wire.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(k string, v any) error {
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "field %q", k)
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	if err := write(fieldEventID, e.EventID); err != nil {
		return nil, err
	}
	if err := write(fieldType, e.Type); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := write(k, e.Fields[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// toFields normalizes send data. nil, Fields, Event and map[string]any are taken as they are; any
// other value must JSON-encode to an object.
func toFields(data any) (Fields, error) {
	var fields Fields

	switch d := data.(type) {
	case nil:
		return Fields{}, nil
	case Fields:
		fields = d
	case Event:
		fields = Fields(d)
	case map[string]any:
		fields = d
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidPayload, err.Error())
		}
		if err := decodeObject(raw, &fields); err != nil || fields == nil {
			return nil, errors.Wrapf(ErrInvalidPayload, "%T does not encode to an object", data)
		}
	}

	out := make(Fields, len(fields))
	for k, v := range fields {
		if k == fieldEventID || k == fieldType {
			return nil, errors.Wrapf(ErrInvalidPayload, "reserved field %q", k)
		}
		out[k] = v
	}
	return out, nil
}

// decodeObject unmarshals data into v keeping numbers as json.Number. Trailing data is rejected.
func decodeObject(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after object")
	}
	return nil
}

package rq

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// timeLayouts are tried in order when parsing expire_at. Producers that write ISO-8601 without a zone are
// read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Message is a unit of work stored in a queue.
type Message struct {
	// ID identifies the message for its whole lifetime. It is also the field name in the pending hash.
	ID string
	// Data is the payload as supplied by the producer, encoded by the queue's codec.
	Data json.RawMessage
	// Queue is the ready list the message belongs to. It is informational once the message is in flight.
	Queue string
	// ExpireAt is the deadline for acknowledgement. Past it the message is reclaimed and delivered again.
	ExpireAt time.Time

	// raw is the in-flight list entry this message was transferred as.
	raw   []byte
	owner *Queue
}

type wireMessage struct {
	ID       string          `json:"id"`
	Data     json.RawMessage `json:"data"`
	Queue    string          `json:"queue"`
	ExpireAt string          `json:"expire_at"`
}

// Marshal encodes the message in its wire format. The encoding is deterministic.
func (m *Message) Marshal() ([]byte, error) {
	data := m.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(wireMessage{
		ID:       m.ID,
		Data:     data,
		Queue:    m.Queue,
		ExpireAt: m.ExpireAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal message %s", m.ID)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ParseMessage decodes a message from its wire format. Anything else is reported as a *MalformedError.
func ParseMessage(b []byte) (*Message, error) {
	var w wireMessage
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&w); err != nil {
		return nil, &MalformedError{Raw: b, Err: err}
	}
	if dec.More() {
		return nil, &MalformedError{Raw: b, Err: errors.New("trailing data after message")}
	}
	if w.ID == "" {
		return nil, &MalformedError{Raw: b, Err: errors.New("missing id")}
	}
	if w.ExpireAt == "" {
		return nil, &MalformedError{Raw: b, Err: errors.New("missing expire_at")}
	}
	if len(w.Data) == 0 {
		return nil, &MalformedError{Raw: b, Err: errors.New("missing data")}
	}
	expireAt, err := parseTime(w.ExpireAt)
	if err != nil {
		return nil, &MalformedError{Raw: b, Err: err}
	}
	var data bytes.Buffer
	if err := json.Compact(&data, w.Data); err != nil {
		return nil, &MalformedError{Raw: b, Err: err}
	}
	return &Message{
		ID:       w.ID,
		Data:     data.Bytes(),
		Queue:    w.Queue,
		ExpireAt: expireAt,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, errors.Wrap(firstErr, "parse expire_at")
}

// IsExpired reports whether the acknowledgement deadline has passed at now.
func (m *Message) IsExpired(now time.Time) bool {
	return !now.Before(m.ExpireAt)
}

// Decode decodes the payload into v using the codec of the queue the message was received from.
// Detached messages are decoded as JSON.
func (m *Message) Decode(v interface{}) error {
	if m.owner != nil {
		return m.owner.codec.Unmarshal(m.Data, v)
	}
	return json.Unmarshal(m.Data, v)
}

// Ack acknowledges the message on the queue it was received from. See Queue.Ack.
func (m *Message) Ack(ctx context.Context) error {
	if m.owner == nil {
		return ErrDetached
	}
	return m.owner.Ack(ctx, m)
}

// extend returns a copy of the message with a new deadline. The copy is detached.
func (m *Message) extend(expireAt time.Time) *Message {
	return &Message{
		ID:       m.ID,
		Data:     m.Data,
		Queue:    m.Queue,
		ExpireAt: expireAt.UTC(),
	}
}

// entries returns the in-flight entries that may represent this message.
func (m *Message) entries() ([][]byte, error) {
	own, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	if len(m.raw) == 0 || bytes.Equal(m.raw, own) {
		return [][]byte{own}, nil
	}
	return [][]byte{m.raw, own}, nil
}

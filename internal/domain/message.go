package domain

import "sort"

// BusFrame is a single raw frame carried by a bus message (for example one
// CAN frame inside a "can" message).
type BusFrame struct {
	// Address is the frame identifier on the bus
	Address uint32 `json:"address"`

	// Src is the bus number the frame was seen on
	Src uint8 `json:"src"`

	// Data is the frame payload
	Data []byte `json:"data,omitempty"`
}

// Message is one recorded, typed, timestamped unit read from a log.
// The harness never interprets the payload beyond what expectation policies
// and output comparison need.
type Message struct {
	// Topic identifies the schema/category of the message
	Topic string `json:"topic"`

	// MonoTime is the monotonic log time in nanoseconds; the replay ordering key
	MonoTime int64 `json:"mono_time"`

	// Valid mirrors the producer's validity flag
	Valid bool `json:"valid"`

	// Fields is the structured body of the message
	Fields map[string]any `json:"fields,omitempty"`

	// Raw is the binary body for raw-protocol topics
	Raw []byte `json:"raw,omitempty"`

	// Frames holds raw bus frames for bus topics
	Frames []BusFrame `json:"frames,omitempty"`
}

// IsZero reports whether m carries no topic.
func (m Message) IsZero() bool {
	return m.Topic == ""
}

// Clone returns a deep copy of m. Nested maps and slices in Fields are
// copied as well, so the copy shares no memory with m.
func (m Message) Clone() Message {
	c := m
	if m.Fields != nil {
		c.Fields = cloneValue(m.Fields).(map[string]any)
	}
	if m.Raw != nil {
		c.Raw = append([]byte(nil), m.Raw...)
	}
	if m.Frames != nil {
		c.Frames = make([]BusFrame, len(m.Frames))
		for i, f := range m.Frames {
			c.Frames[i] = f
			if f.Data != nil {
				c.Frames[i].Data = append([]byte(nil), f.Data...)
			}
		}
	}
	return c
}

// CloneAll deep-copies every message in msgs.
func CloneAll(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// Output is one message captured from the service under test.
type Output struct {
	// Message is the published message; its MonoTime is stamped with the
	// triggering input's MonoTime
	Message

	// InputIndex is the index of the triggering input in the replayed set
	InputIndex int `json:"input_index"`
}

// SortByMonoTime sorts msgs ascending by MonoTime in place.
// Ties keep their original relative order.
func SortByMonoTime(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].MonoTime < msgs[j].MonoTime
	})
}

// FilterTopics returns the messages whose topic is in topics, preserving order.
func FilterTopics(msgs []Message, topics map[string]bool) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if topics[m.Topic] {
			out = append(out, m)
		}
	}
	return out
}

package engine

import "fmt"

type EventType int

const (
	EventEntry EventType = iota
	EventStopHit
	EventTakeProfitHit
	EventEndOfData
	EventRejected
	EventDegenerateATR
)

func (t EventType) String() string {
	switch t {
	case EventEntry:
		return "entry"
	case EventStopHit:
		return "stop_hit"
	case EventTakeProfitHit:
		return "take_profit_hit"
	case EventEndOfData:
		return "end_of_data"
	case EventRejected:
		return "rejected"
	case EventDegenerateATR:
		return "degenerate_atr"
	}
	return "unknown"
}

// MarshalText lets EventType serialize by name.
func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	for c := EventEntry; c <= EventDegenerateATR; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", b)
}

type Event struct {
	Ts      int64             `json:"ts"`
	Type    EventType         `json:"type"`
	Symbol  string            `json:"symbol"`
	Details map[string]string `json:"details,omitempty"`
}

type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

// Count returns how many events of type t were logged.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

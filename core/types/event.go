package types

// Event is the wire form of a book state change: a dotted type name and a flat
// set of string attributes, kept JSON-friendly for RPC subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or the empty string when absent.
func (e *Event) Attribute(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}

// Clone returns a deep copy safe to hand to subscribers.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := &Event{Type: e.Type}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

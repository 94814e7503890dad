package channel

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// CallbackAction is the first field of button payloads.
type CallbackAction string

const (
	CallbackAnswer  CallbackAction = "a"
	CallbackToggle  CallbackAction = "t"
	CallbackConfirm CallbackAction = "c"
	CallbackBack    CallbackAction = "b"
)

// Callback is a decoded button payload. Position is the question the button was rendered
// for; Index is the option index for answer and toggle buttons. Fingerprint identifies
// the option list the index points into, since dynamic options change when an earlier
// answer is revised.
type Callback struct {
	Action      CallbackAction
	Position    int
	Index       int
	Fingerprint string
}

// OptionsFingerprint returns a short hash of options in order.
func OptionsFingerprint(options []string) string {
	h := fnv.New32a()
	for _, opt := range options {
		h.Write([]byte(opt))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%08x", h.Sum32())
}

// Encode returns the compact payload, e.g. "a:3:1:9f04c1d2" or "c:3".
func (c Callback) Encode() string {
	switch c.Action {
	case CallbackAnswer, CallbackToggle:
		return fmt.Sprintf("%s:%d:%d:%s", c.Action, c.Position, c.Index, c.Fingerprint)
	default:
		return fmt.Sprintf("%s:%d", c.Action, c.Position)
	}
}

// ParseCallback decodes a payload produced by Encode.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return Callback{}, fmt.Errorf("malformed callback %q", data)
	}
	cb := Callback{Action: CallbackAction(parts[0])}
	pos, err := strconv.Atoi(parts[1])
	if err != nil || pos < 0 {
		return Callback{}, fmt.Errorf("malformed callback position in %q", data)
	}
	cb.Position = pos

	switch cb.Action {
	case CallbackAnswer, CallbackToggle:
		if len(parts) != 4 {
			return Callback{}, fmt.Errorf("callback %q needs an option index and fingerprint", data)
		}
		idx, err := strconv.Atoi(parts[2])
		if err != nil || idx < 0 {
			return Callback{}, fmt.Errorf("malformed callback option index in %q", data)
		}
		if parts[3] == "" {
			return Callback{}, fmt.Errorf("callback %q has an empty fingerprint", data)
		}
		cb.Index = idx
		cb.Fingerprint = parts[3]
	case CallbackConfirm, CallbackBack:
		if len(parts) != 2 {
			return Callback{}, fmt.Errorf("malformed callback %q", data)
		}
	default:
		return Callback{}, fmt.Errorf("unknown callback action in %q", data)
	}
	return cb, nil
}

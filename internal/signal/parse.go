package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSignal marks a malformed or incomplete inbound event. The
// dispatch loop logs these and moves on; they never abort a connection.
var ErrInvalidSignal = errors.New("invalid signal")

var validate = validator.New()

// Parse decodes one wire message into its typed event. Unknown event
// names, malformed JSON and missing required fields all come back wrapped
// in ErrInvalidSignal.
func Parse(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: bad envelope: %v", ErrInvalidSignal, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidSignal)
	}

	var ev Event
	switch env.Type {
	case TypeSetSession:
		ev = &SetSession{}
	case TypeCallUser:
		ev = &CallUser{}
	case TypeAnswerCall:
		ev = &AnswerCall{}
	case TypeEndCall:
		ev = &EndCall{}
	case TypeParticipantLeft:
		ev = &ParticipantLeft{}
	case TypeRejectCall:
		ev = &RejectCall{}
	case TypeInviteToCall:
		ev = &InviteToCall{}
	case TypeJoinCallRoom:
		ev = &JoinCallRoom{}
	case TypeCallIgnored:
		ev = &CallIgnored{}
	case TypeICECandidate:
		ev = &ICECandidate{}
	case TypeScreenShare:
		ev = &ScreenShare{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: bad %s payload: %v", ErrInvalidSignal, env.Type, err)
		}
	}

	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSignal, env.Type, err)
	}

	return ev, nil
}

// Encode wraps a payload into the wire envelope. Payloads are plain
// structs and maps under our control, so marshal errors are not expected.
func Encode(eventType string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	msg, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		return nil
	}
	return msg
}

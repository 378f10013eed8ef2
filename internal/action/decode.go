package action

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape accepted by the admin HTTP ingress: a tag
// naming the action kind, and a kind-specific JSON payload.
type Envelope struct {
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses an Envelope into a concrete, validated Action. Unknown
// tags and malformed/invalid payloads both surface as ErrInvalidAction,
// so a caller never has to distinguish "bad tag" from "bad payload".
func Decode(env Envelope) (Action, error) {
	var a Action
	switch env.Tag {
	case KindLocalPeerCreate:
		var v LocalPeerCreate
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindLocalPeerUpdate:
		var v LocalPeerUpdate
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindLocalPeerDelete:
		var v LocalPeerDelete
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindLocalRouteCreate:
		var v LocalRouteCreate
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindLocalRouteDelete:
		var v LocalRouteDelete
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindInternalProtocolOpen:
		var v InternalProtocolOpen
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindInternalProtocolConnected:
		var v InternalProtocolConnected
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindInternalProtocolUpdate:
		var v InternalProtocolUpdate
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindInternalProtocolClose:
		var v InternalProtocolClose
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	case KindSystemTick:
		var v SystemTick
		if err := unmarshal(env.Payload, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrInvalidAction, env.Tag)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func unmarshal(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAction, err)
	}
	return nil
}

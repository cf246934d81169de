package task

import (
	"fmt"

	"github.com/roach88/hearth/internal/payload"
)

// Typed argument shapes for the narrow operations. Each shape round-trips
// through the task's payload object so the durable record stays a plain map.

// SingletonField is the argument of OpSetSingleton.
type SingletonField struct {
	Field string
	Value payload.Value
}

// Object encodes the shape as a payload.
func (a SingletonField) Object() payload.Object {
	return payload.Object{"field": payload.String(a.Field), "value": valueOrNull(a.Value)}
}

// DecodeSingletonField reads a SingletonField from a payload.
func DecodeSingletonField(obj payload.Object) (SingletonField, error) {
	field, err := requireString(obj, "field")
	if err != nil {
		return SingletonField{}, err
	}
	value, ok := obj["value"]
	if !ok {
		return SingletonField{}, fmt.Errorf("missing %q", "value")
	}
	return SingletonField{Field: field, Value: value}, nil
}

// MemberRemoval is the argument of OpRemoveMember.
type MemberRemoval struct {
	Field  string
	Member payload.Value
}

// Object encodes the shape as a payload.
func (a MemberRemoval) Object() payload.Object {
	return payload.Object{"field": payload.String(a.Field), "member": valueOrNull(a.Member)}
}

// DecodeMemberRemoval reads a MemberRemoval from a payload.
func DecodeMemberRemoval(obj payload.Object) (MemberRemoval, error) {
	field, err := requireString(obj, "field")
	if err != nil {
		return MemberRemoval{}, err
	}
	member, ok := obj["member"]
	if !ok {
		return MemberRemoval{}, fmt.Errorf("missing %q", "member")
	}
	return MemberRemoval{Field: field, Member: member}, nil
}

// StatusTransition is the argument of OpBulkTransition.
// From may be empty, meaning "whatever the current status is".
type StatusTransition struct {
	Collection string
	IDs        []string
	From       string
	To         string
}

// Object encodes the shape as a payload.
func (a StatusTransition) Object() payload.Object {
	ids := make(payload.Array, len(a.IDs))
	for i, id := range a.IDs {
		ids[i] = payload.String(id)
	}
	obj := payload.Object{
		"collection": payload.String(a.Collection),
		"ids":        ids,
		"to":         payload.String(a.To),
	}
	if a.From != "" {
		obj["from"] = payload.String(a.From)
	}
	return obj
}

// DecodeStatusTransition reads a StatusTransition from a payload.
func DecodeStatusTransition(obj payload.Object) (StatusTransition, error) {
	collection, err := requireString(obj, "collection")
	if err != nil {
		return StatusTransition{}, err
	}
	to, err := requireString(obj, "to")
	if err != nil {
		return StatusTransition{}, err
	}
	var from string
	if v, ok := obj["from"]; ok {
		s, ok := v.(payload.String)
		if !ok {
			return StatusTransition{}, fmt.Errorf("%q must be a string, got %T", "from", v)
		}
		from = string(s)
	}
	raw, ok := obj["ids"].(payload.Array)
	if !ok || len(raw) == 0 {
		return StatusTransition{}, fmt.Errorf("%q must be a non-empty array", "ids")
	}
	ids := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(payload.String)
		if !ok || s == "" {
			return StatusTransition{}, fmt.Errorf("ids[%d] must be a non-empty string", i)
		}
		ids[i] = string(s)
	}
	return StatusTransition{Collection: collection, IDs: ids, From: from, To: to}, nil
}

// ChildReceipt is the argument of OpMarkChildReceived.
type ChildReceipt struct {
	Child      string
	ReceivedAt int64
}

// Object encodes the shape as a payload.
func (a ChildReceipt) Object() payload.Object {
	return payload.Object{"child": payload.String(a.Child), "received_at": payload.Int(a.ReceivedAt)}
}

// DecodeChildReceipt reads a ChildReceipt from a payload.
func DecodeChildReceipt(obj payload.Object) (ChildReceipt, error) {
	child, err := requireString(obj, "child")
	if err != nil {
		return ChildReceipt{}, err
	}
	at, ok := obj["received_at"].(payload.Int)
	if !ok {
		return ChildReceipt{}, fmt.Errorf("%q must be an integer", "received_at")
	}
	return ChildReceipt{Child: child, ReceivedAt: int64(at)}, nil
}

func requireString(obj payload.Object, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing %q", key)
	}
	s, ok := v.(payload.String)
	if !ok || s == "" {
		return "", fmt.Errorf("%q must be a non-empty string", key)
	}
	return string(s), nil
}

func valueOrNull(v payload.Value) payload.Value {
	if v == nil {
		return payload.Null{}
	}
	return v
}

package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hearth/internal/payload"
)

func TestSingletonField_RoundTrip(t *testing.T) {
	in := SingletonField{Field: "wifi_password", Value: payload.String("hunter2")}
	out, err := DecodeSingletonField(in.Object())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSingletonField_NilValueBecomesNull(t *testing.T) {
	obj := SingletonField{Field: "note"}.Object()
	assert.Equal(t, payload.Null{}, obj["value"])
}

func TestMemberRemoval_RoundTrip(t *testing.T) {
	in := MemberRemoval{Field: "members", Member: payload.String("user-2")}
	out, err := DecodeMemberRemoval(in.Object())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMemberRemoval_MissingMember(t *testing.T) {
	_, err := DecodeMemberRemoval(payload.Object{"field": payload.String("members")})
	assert.ErrorContains(t, err, `missing "member"`)
}

func TestStatusTransition_RoundTrip(t *testing.T) {
	in := StatusTransition{Collection: "deliveries", IDs: []string{"d1", "d2"}, From: "shipped", To: "arrived"}
	out, err := DecodeStatusTransition(in.Object())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStatusTransition_FromOptional(t *testing.T) {
	obj := StatusTransition{Collection: "deliveries", IDs: []string{"d1"}, To: "archived"}.Object()
	_, hasFrom := obj["from"]
	assert.False(t, hasFrom)

	out, err := DecodeStatusTransition(obj)
	require.NoError(t, err)
	assert.Empty(t, out.From)
}

func TestStatusTransition_RejectsBadIDs(t *testing.T) {
	obj := payload.Object{
		"collection": payload.String("deliveries"),
		"to":         payload.String("arrived"),
		"ids":        payload.Array{payload.String("d1"), payload.Int(2)},
	}
	_, err := DecodeStatusTransition(obj)
	assert.ErrorContains(t, err, "ids[1]")
}

func TestChildReceipt_RoundTrip(t *testing.T) {
	in := ChildReceipt{Child: "parcel-2", ReceivedAt: 1700000000123}
	out, err := DecodeChildReceipt(in.Object())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

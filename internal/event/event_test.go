package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	events := []Event{
		Connected("alice"),
		Disconnected("bob"),
		Message("carol", "hi"),
		Message("dave", "  padded body  "),
		Message("émile", "ünïcode ✓"),
	}
	for _, e := range events {
		data, err := Encode(e)
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, e, decoded)
	}
}

func TestEncode_WireShape(t *testing.T) {
	req := require.New(t)

	data, err := Encode(Connected("alice"))
	req.NoError(err)
	req.JSONEq(`{"event_type":"connected","username":"alice"}`, string(data))

	data, err = Encode(Message("alice", "hi"))
	req.NoError(err)
	req.JSONEq(`{"event_type":"message","username":"alice","message":"hi"}`, string(data))
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":                `hello`,
		"array":                   `[]`,
		"unknown kind":            `{"event_type":"typing","username":"alice"}`,
		"missing kind":            `{"username":"alice"}`,
		"missing username":        `{"event_type":"connected"}`,
		"blank username":          `{"event_type":"connected","username":"   "}`,
		"connected with body":     `{"event_type":"connected","username":"alice","message":"x"}`,
		"disconnected with body":  `{"event_type":"disconnected","username":"alice","message":""}`,
		"message without body":    `{"event_type":"message","username":"alice"}`,
		"message with empty body": `{"event_type":"message","username":"alice","message":""}`,
		"extra field":             `{"event_type":"connected","username":"alice","room":"1"}`,
		"trailing object":         `{"event_type":"connected","username":"alice"}{}`,
		"kind in wrong case":      `{"event_type":"Connected","username":"alice"}`,
		"numeric username":        `{"event_type":"connected","username":42}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			require.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestDecode_NullBodyIsAbsent(t *testing.T) {
	e, err := Decode([]byte(`{"event_type":"disconnected","username":"alice","message":null}`))
	require.NoError(t, err)
	require.Equal(t, Disconnected("alice"), e)
}

func TestEncode_RejectsInvalidEvent(t *testing.T) {
	_, err := Encode(Event{Kind: "typing", Participant: "alice"})
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Encode(Message("", "hi"))
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Encode(Event{Kind: KindConnected, Participant: "alice", Body: "x"})
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "alice has joined the chat.", Describe(Connected("alice")))
	require.Equal(t, "alice has left the chat.", Describe(Disconnected("alice")))
	require.Equal(t, "[bob]: hey", Describe(Message("bob", "hey")))
}

func TestEvent_JSONArray(t *testing.T) {
	req := require.New(t)
	history := []Event{Connected("alice"), Message("alice", "hi")}

	data, err := json.Marshal(history)
	req.NoError(err)
	req.JSONEq(`[{"event_type":"connected","username":"alice"},{"event_type":"message","username":"alice","message":"hi"}]`, string(data))

	var decoded []Event
	req.NoError(json.Unmarshal(data, &decoded))
	req.Equal(history, decoded)

	err = json.Unmarshal([]byte(`[{"event_type":"bogus","username":"alice"}]`), &decoded)
	req.ErrorIs(err, ErrMalformedEvent)
}

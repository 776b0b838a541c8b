package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallUser(t *testing.T) {
	raw := []byte(`{"type":"call-user","data":{"chatId":"chat-1","from":"alice","receiverId":"bob","offer":{"type":"offer","sdp":"v=0"},"phoneNumber":"+123"}}`)

	ev, err := Parse(raw)
	require.NoError(t, err)

	call, ok := ev.(*CallUser)
	require.True(t, ok)
	assert.Equal(t, "chat-1", call.ChatID)
	assert.Equal(t, "alice", call.From)
	assert.Equal(t, "bob", call.ReceiverID)
	assert.NotEmpty(t, call.Offer)
}

func TestParseRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type":"call-user","data":`},
		{"missing type", `{"data":{}}`},
		{"unknown type", `{"type":"warp-drive","data":{}}`},
		{"call-user without offer", `{"type":"call-user","data":{"chatId":"c","from":"a","receiverId":"b"}}`},
		{"call-user without sender", `{"type":"call-user","data":{"chatId":"c","receiverId":"b","offer":{}}}`},
		{"answer without answer", `{"type":"answer-call","data":{"chatId":"c","from":"a"}}`},
		{"ice without candidate", `{"type":"ice-candidate","data":{"chatId":"c","from":"a"}}`},
		{"join without user", `{"type":"join-call-room","data":{"chatId":"c"}}`},
		{"empty data", `{"type":"set_session"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSignal)
		})
	}
}

func TestParseOptionalTargets(t *testing.T) {
	// toUserId is optional on ice-candidate: absent means room-wide.
	ev, err := Parse([]byte(`{"type":"ice-candidate","data":{"chatId":"c","from":"a","candidate":{"candidate":"udp"}}}`))
	require.NoError(t, err)
	ice := ev.(*ICECandidate)
	assert.Empty(t, ice.ToUserID)

	ev, err = Parse([]byte(`{"type":"ice-candidate","data":{"chatId":"c","from":"a","toUserId":"b","candidate":{"candidate":"udp"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "b", ev.(*ICECandidate).ToUserID)
}

func TestEncodeRoundTrip(t *testing.T) {
	msg := Encode(TypeCallStatus, CallStatusPayload{IsOnline: true})
	require.NotNil(t, msg)
	assert.JSONEq(t, `{"type":"call-status","data":{"isOnline":true}}`, string(msg))
}

func TestScreenShareStopHasNoOffer(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"screen-sharing-signal","data":{"chatId":"c","isSharing":false}}`))
	require.NoError(t, err)
	share := ev.(*ScreenShare)
	assert.False(t, share.IsSharing)
	assert.Empty(t, share.Offer)
}

package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func limitFromJSON(t *testing.T, raw string) looseLimit {
	t.Helper()
	frame, err := parseFrame([]byte(raw))
	require.NoError(t, err)
	return frame.Limit
}

func TestClampHistoryLimit(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"absent defaults", `{"type":"history"}`, 200},
		{"zero clamps to minimum", `{"type":"history","limit":0}`, 1},
		{"negative clamps to minimum", `{"type":"history","limit":-5}`, 1},
		{"huge clamps to maximum", `{"type":"history","limit":10000}`, 500},
		{"non-numeric defaults", `{"type":"history","limit":"plenty"}`, 200},
		{"null defaults", `{"type":"history","limit":null}`, 200},
		{"in range passes through", `{"type":"history","limit":50}`, 50},
		{"fractional truncates", `{"type":"history","limit":10.9}`, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, clampHistoryLimit(limitFromJSON(t, tc.raw)))
		})
	}
}

func TestNonNumericLimitDoesNotFailTheFrame(t *testing.T) {
	frame, err := parseFrame([]byte(`{"type":"history","channel":"#ops","limit":{"nested":true}}`))
	require.NoError(t, err)
	require.Equal(t, "history", frame.Type)
	require.Equal(t, "#ops", frame.Channel)
	require.False(t, frame.Limit.ok)
}

func TestParseFrameRejectsMalformedJSON(t *testing.T) {
	_, err := parseFrame([]byte(`{"type":"say",`))
	require.Error(t, err)
}

func TestParseFrameReadsSayFields(t *testing.T) {
	req := require.New(t)
	frame, err := parseFrame([]byte(`{"type":"say","channel":"#general","text":"hi","ts":1000,"from":"alice","resolution":"1920x1080","uuid":"u-1"}`))
	req.NoError(err)
	req.Equal("say", frame.Type)
	req.Equal("#general", frame.Channel)
	req.Equal("hi", frame.Text)
	req.NotNil(frame.Ts)
	req.Equal(float64(1000), *frame.Ts)
	req.Equal("alice", frame.From)
	req.Equal("1920x1080", frame.Resolution)
	req.Equal("u-1", frame.UUID)
}

func TestChannelOrDefault(t *testing.T) {
	require.Equal(t, DefaultChannel, channelOrDefault(""))
	require.Equal(t, "#ops", channelOrDefault("#ops"))
}

func TestHistoryFrameMarshalsEmptyItemsAsArray(t *testing.T) {
	payload, err := json.Marshal(historyFrame{Type: frameHistory, Channel: "#empty", Items: []historyItem{}})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"history","channel":"#empty","items":[]}`, string(payload))
}

func TestPongFrameOmitsAbsentTimestamp(t *testing.T) {
	payload, err := json.Marshal(pongFrame{Type: framePong})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(payload))
}

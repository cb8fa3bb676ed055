package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/echo-relay/internal/store"
)

type fakeStore struct {
	appendErr   error
	historyErr  error
	events      []store.ChatEvent
	appended    []store.ChatEvent
	lastChannel string
	lastLimit   int
}

func (f *fakeStore) Append(_ context.Context, event store.ChatEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, event)
	return nil
}

func (f *fakeStore) History(_ context.Context, channel string, limit int) ([]store.ChatEvent, error) {
	f.lastChannel = channel
	f.lastLimit = limit
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.events, nil
}

const fixedNowMillis = int64(777000)

func newTestRelay(t *testing.T, fake *fakeStore) (*Relay, *Client) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := NewRelay(NewHub(log), fake, log, 0)
	relay.now = func() time.Time { return time.UnixMilli(fixedNowMillis) }
	client := NewClient(nil, nil, relay, "10.0.0.1", DefaultConfig(), log)
	return relay, client
}

func decodePayload(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return decoded
}

func TestSayBroadcastsVerbatimFields(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"say","channel":"#general","text":"hi","ts":1000,"from":"alice"}`))
	req.Len(out, 1)
	req.Equal(replyToAll, out[0].target)

	msg := decodePayload(t, out[0].payload)
	req.Equal("msg", msg["type"])
	req.Equal("#general", msg["channel"])
	req.Equal("alice", msg["from"])
	req.Equal("hi", msg["text"])
	req.Equal(float64(1000), msg["ts"])
	req.Equal("10.0.0.1", msg["fromIp"])
}

func TestSayDefaults(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"say"}`))
	req.Len(out, 1)
	req.Equal(replyToAll, out[0].target)

	msg := decodePayload(t, out[0].payload)
	req.Equal(DefaultChannel, msg["channel"])
	req.Equal(DefaultSenderName, msg["from"])
	req.Equal("", msg["text"])
	req.Equal(float64(fixedNowMillis), msg["ts"], "absent ts falls back to server time")

	req.Len(fake.appended, 1)
	req.Equal(DefaultChannel, fake.appended[0].Channel)
	req.Equal(fixedNowMillis, fake.appended[0].Timestamp)
	req.Empty(fake.appended[0].SenderName, "the display-name default applies to the reply, not the stored row")
}

func TestSayPersistsSenderAddressAndMetadata(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"say","text":"hi","ts":1000,"from":"alice","resolution":"1920x1080","uuid":"u-1"}`))
	req.Len(out, 1)

	req.Len(fake.appended, 1)
	event := fake.appended[0]
	req.Equal("10.0.0.1", event.SenderIP, "sender address comes from the connection, never the payload")
	req.Equal("1920x1080", event.Metadata)
	req.Equal("u-1", event.ClientUUID)

	msg := decodePayload(t, out[0].payload)
	req.Equal("u-1", msg["uuid"], "client uuid surfaces in the broadcast for downstream dedupe")
}

func TestSayStoreFailureStillBroadcasts(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{appendErr: errors.New("connection refused")}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"say","text":"hi"}`))
	req.Len(out, 1)
	req.Equal(replyToAll, out[0].target)
	req.Equal("msg", decodePayload(t, out[0].payload)["type"])
}

func TestHistoryClampReachesStore(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"absent", `{"type":"history"}`, 200},
		{"zero", `{"type":"history","limit":0}`, 1},
		{"huge", `{"type":"history","limit":10000}`, 500},
		{"non-numeric", `{"type":"history","limit":"lots"}`, 200},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeStore{}
			relay, client := newTestRelay(t, fake)
			out := relay.dispatch(client, []byte(tc.raw))
			require.Len(t, out, 1)
			require.Equal(t, tc.want, fake.lastLimit)
		})
	}
}

func TestHistoryRepliesToRequesterOnly(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{events: []store.ChatEvent{
		{Channel: "#general", SenderIP: "10.0.0.2", Text: "first", Timestamp: 1000, SenderName: "alice", ClientUUID: "u-1"},
		{Channel: "#general", SenderIP: "10.0.0.3", Text: "second", Timestamp: 2000, SenderName: "bob"},
	}}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"history","channel":"#general","limit":50}`))
	req.Len(out, 1)
	req.Equal(replyToSender, out[0].target)
	req.Equal("#general", fake.lastChannel)

	var reply historyFrame
	req.NoError(json.Unmarshal(out[0].payload, &reply))
	req.Equal("history", reply.Type)
	req.Equal("#general", reply.Channel)
	req.Len(reply.Items, 2)
	req.Equal("first", reply.Items[0].Text)
	req.Equal("u-1", reply.Items[0].UUID)
	req.LessOrEqual(reply.Items[0].Ts, reply.Items[1].Ts)
}

func TestHistoryEmptyChannelYieldsEmptyItems(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{events: []store.ChatEvent{}}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"history","channel":"#empty","limit":50}`))
	req.Len(out, 1)
	req.JSONEq(`{"type":"history","channel":"#empty","items":[]}`, string(out[0].payload))
}

func TestHistoryQueryFailureYieldsDiagnostic(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{historyErr: errors.New("server has gone away")}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"history"}`))
	req.Len(out, 1)
	req.Equal(replyToSender, out[0].target)

	reply := decodePayload(t, out[0].payload)
	req.Equal("sys", reply["type"])
	req.NotContains(reply, "items", "no partial data on a query failure")
}

func TestPingEchoesTimestampUnchanged(t *testing.T) {
	req := require.New(t)
	relay, client := newTestRelay(t, &fakeStore{})

	out := relay.dispatch(client, []byte(`{"type":"ping","ts":424242}`))
	req.Len(out, 1)
	req.Equal(replyToSender, out[0].target)
	req.JSONEq(`{"type":"pong","ts":424242}`, string(out[0].payload))
}

func TestPingWithoutTimestamp(t *testing.T) {
	relay, client := newTestRelay(t, &fakeStore{})
	out := relay.dispatch(client, []byte(`{"type":"ping"}`))
	require.Len(t, out, 1)
	require.JSONEq(t, `{"type":"pong"}`, string(out[0].payload))
}

func TestMalformedFrameNeverReachesStoreOrBroadcast(t *testing.T) {
	req := require.New(t)
	fake := &fakeStore{}
	relay, client := newTestRelay(t, fake)

	out := relay.dispatch(client, []byte(`{"type":"say",`))
	req.Len(out, 1)
	req.Equal(replyToSender, out[0].target)
	req.Equal("sys", decodePayload(t, out[0].payload)["type"])
	req.Empty(fake.appended)
}

func TestUnrecognizedKindEchoesPayload(t *testing.T) {
	req := require.New(t)
	relay, client := newTestRelay(t, &fakeStore{})

	out := relay.dispatch(client, []byte(`{"type":"dance","tempo":120}`))
	req.Len(out, 1)
	req.Equal(replyToSender, out[0].target)

	reply := decodePayload(t, out[0].payload)
	req.Equal("sys", reply["type"])
	req.Contains(reply["text"], `"dance"`)
}

func TestWelcomeCarriesResolvedAddress(t *testing.T) {
	req := require.New(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)
	go hub.Run()
	defer func() { _ = hub.Shutdown(time.Second) }()

	relay := NewRelay(hub, &fakeStore{}, log, 0)
	client := NewClient(nil, hub, relay, "203.0.113.9", DefaultConfig(), log)
	hub.Register(client)

	relay.Welcome(client)

	select {
	case payload := <-client.send:
		reply := decodePayload(t, payload)
		req.Equal("sys", reply["type"])
		req.Equal("203.0.113.9", reply["ip"])
	case <-time.After(time.Second):
		t.Fatal("welcome frame was not delivered")
	}
}

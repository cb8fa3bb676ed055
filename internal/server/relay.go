// Package server implements the relay: the protocol state machine that
// turns one inbound frame into zero or more outbound deliveries.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/echo-relay/internal/store"
)

// MessageStore is the durable log the relay appends to and replays from.
// *store.Store satisfies it; tests substitute an in-memory fake.
type MessageStore interface {
	Append(ctx context.Context, event store.ChatEvent) error
	History(ctx context.Context, channel string, limit int) ([]store.ChatEvent, error)
}

// replyTarget names where an outbound frame goes. Every handler returns
// its target explicitly rather than writing to connections itself.
type replyTarget int

const (
	replyToSender replyTarget = iota
	replyToAll
)

// outbound is one frame produced by dispatch, paired with its target.
type outbound struct {
	target  replyTarget
	payload []byte
}

// Relay parses inbound frames, persists posts, and routes replies. It
// keeps no per-connection state beyond what the hub tracks; every frame
// is handled in isolation.
type Relay struct {
	hub          *Hub
	store        MessageStore
	log          *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// NewRelay wires the relay to its registry and durable store. A zero
// storeTimeout disables deadlines on store calls.
func NewRelay(hub *Hub, messageStore MessageStore, log *slog.Logger, storeTimeout time.Duration) *Relay {
	return &Relay{
		hub:          hub,
		store:        messageStore,
		log:          log,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// HandleFrame processes one inbound frame from a client and delivers the
// resulting replies. Store I/O happens on the calling goroutine; the hub
// keeps broadcasting to other connections in the meantime.
func (r *Relay) HandleFrame(client *Client, raw []byte) {
	for _, out := range r.dispatch(client, raw) {
		r.deliver(client, out)
	}
}

// Welcome sends the connection-identity notice to a newly accepted client.
// The ip field marks it as a notice rather than a displayable chat line.
func (r *Relay) Welcome(client *Client) {
	r.deliver(client, r.sys(sysFrame{
		Type: frameSys,
		Text: "welcome " + client.addr,
		Ts:   r.now().UnixMilli(),
		IP:   client.addr,
	}))
}

// dispatch parses a frame and routes it to the handler for its kind.
func (r *Relay) dispatch(client *Client, raw []byte) []outbound {
	frame, err := parseFrame(raw)
	if err != nil {
		return []outbound{r.sys(sysFrame{
			Type: frameSys,
			Text: fmt.Sprintf("invalid frame: %v", err),
			Ts:   r.now().UnixMilli(),
		})}
	}

	switch frame.Type {
	case frameSay:
		return r.handleSay(client, frame)
	case frameHistory:
		return r.handleHistory(frame)
	case framePing:
		return r.handlePing(frame)
	default:
		return r.handleUnknown(raw)
	}
}

// handleSay persists the post and broadcasts it to every registered
// connection, sender included. A persistence failure is logged and does
// not block the broadcast: the message is delivered live but will be
// absent from future history replays.
func (r *Relay) handleSay(client *Client, frame inboundFrame) []outbound {
	channel := channelOrDefault(frame.Channel)

	ts := r.now().UnixMilli()
	if frame.Ts != nil {
		ts = int64(*frame.Ts)
	}

	event := store.ChatEvent{
		Channel:    channel,
		SenderIP:   client.addr,
		Text:       frame.Text,
		Timestamp:  ts,
		SenderName: frame.From,
		Metadata:   frame.Resolution,
		ClientUUID: frame.UUID,
	}

	ctx, cancel := r.storeContext()
	err := r.store.Append(ctx, event)
	cancel()
	if err != nil {
		r.log.Error("persisting post failed, broadcasting anyway", "channel", channel, "error", err)
	}

	from := frame.From
	if from == "" {
		from = DefaultSenderName
	}

	payload, err := json.Marshal(msgFrame{
		Type:    frameMsg,
		Channel: channel,
		From:    from,
		Text:    frame.Text,
		Ts:      ts,
		FromIP:  client.addr,
		UUID:    frame.UUID,
	})
	if err != nil {
		r.log.Error("encoding broadcast frame", "error", err)
		return nil
	}

	return []outbound{{target: replyToAll, payload: payload}}
}

// handleHistory replays up to the clamped limit of events for a channel to
// the requester only. A query failure yields a diagnostic notice, never
// partial data.
func (r *Relay) handleHistory(frame inboundFrame) []outbound {
	channel := channelOrDefault(frame.Channel)
	limit := clampHistoryLimit(frame.Limit)

	ctx, cancel := r.storeContext()
	events, err := r.store.History(ctx, channel, limit)
	cancel()
	if err != nil {
		r.log.Error("history query failed", "channel", channel, "error", err)
		return []outbound{r.sys(sysFrame{
			Type: frameSys,
			Text: "history unavailable for " + channel,
			Ts:   r.now().UnixMilli(),
		})}
	}

	items := make([]historyItem, 0, len(events))
	for _, event := range events {
		items = append(items, historyItem{
			Channel:    event.Channel,
			FromIP:     event.SenderIP,
			Text:       event.Text,
			Ts:         event.Timestamp,
			From:       event.SenderName,
			Resolution: event.Metadata,
			UUID:       event.ClientUUID,
		})
	}

	payload, err := json.Marshal(historyFrame{
		Type:    frameHistory,
		Channel: channel,
		Items:   items,
	})
	if err != nil {
		r.log.Error("encoding history frame", "channel", channel, "error", err)
		return nil
	}

	return []outbound{{target: replyToSender, payload: payload}}
}

// handlePing echoes the request timestamp unchanged; the requester
// computes the round-trip delta itself.
func (r *Relay) handlePing(frame inboundFrame) []outbound {
	payload, err := json.Marshal(pongFrame{Type: framePong, Ts: frame.Ts})
	if err != nil {
		r.log.Error("encoding pong frame", "error", err)
		return nil
	}
	return []outbound{{target: replyToSender, payload: payload}}
}

// handleUnknown answers an unrecognized kind with a diagnostic echo of the
// original payload, sender only.
func (r *Relay) handleUnknown(raw []byte) []outbound {
	return []outbound{r.sys(sysFrame{
		Type: frameSys,
		Text: "unrecognized frame: " + string(raw),
		Ts:   r.now().UnixMilli(),
	})}
}

// deliver routes one outbound frame. A failed direct send means the
// requester is gone or stalled; the result is discarded and logged, never
// surfaced to other connections.
func (r *Relay) deliver(client *Client, out outbound) {
	if out.payload == nil {
		return
	}

	switch out.target {
	case replyToAll:
		r.hub.Broadcast(out.payload)
	case replyToSender:
		if !r.hub.SendDirect(client, out.payload) {
			r.log.Warn("reply dropped, client unavailable", "addr", client.addr, "session", client.id)
		}
	}
}

func (r *Relay) sys(frame sysFrame) outbound {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.log.Error("encoding sys frame", "error", err)
		return outbound{target: replyToSender}
	}
	return outbound{target: replyToSender, payload: payload}
}

// storeContext bounds a store call when a timeout is configured. With the
// timeout disabled, calls run to completion or failure.
func (r *Relay) storeContext() (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), r.storeTimeout)
}

// Package server defines the JSON wire frames exchanged with chat clients
// and the parsing rules applied to inbound traffic.
package server

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultChannel receives posts and history requests that do not name a
// channel.
const DefaultChannel = "#general"

// DefaultSenderName is used in broadcast frames when a post carries no
// display name.
const DefaultSenderName = "echo"

// History limits. Requests outside the range are clamped, absent or
// non-numeric limits fall back to the default.
const (
	historyMinLimit     = 1
	historyMaxLimit     = 500
	historyDefaultLimit = 200
)

// Inbound frame kinds. Anything else is answered with a diagnostic echo.
const (
	frameSay     = "say"
	frameHistory = "history"
	framePing    = "ping"
)

// Outbound frame kinds.
const (
	frameMsg  = "msg"
	framePong = "pong"
	frameSys  = "sys"
)

// inboundFrame is the superset of all client-to-server frames. Dispatch is
// driven by Type; unrelated fields are simply left at their zero values.
type inboundFrame struct {
	Type       string     `json:"type"`
	Channel    string     `json:"channel"`
	Text       string     `json:"text"`
	Ts         *float64   `json:"ts"`
	From       string     `json:"from"`
	Resolution string     `json:"resolution"`
	UUID       string     `json:"uuid"`
	Limit      looseLimit `json:"limit"`
}

// looseLimit tolerates any JSON value in the limit field. A non-numeric
// limit must not fail the whole frame; it is treated as absent instead.
type looseLimit struct {
	value float64
	ok    bool
}

func (l *looseLimit) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		l.ok = false
		return nil
	}
	l.value = value
	l.ok = true
	return nil
}

// msgFrame is a broadcast chat message. UUID is echoed verbatim when the
// sender supplied one so downstream consumers can deduplicate across
// reconnects.
type msgFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	From    string `json:"from"`
	Text    string `json:"text"`
	Ts      int64  `json:"ts"`
	FromIP  string `json:"fromIp"`
	UUID    string `json:"uuid,omitempty"`
}

// historyFrame is the requester-only reply to a history request. Items are
// always in ascending timestamp order and never nil.
type historyFrame struct {
	Type    string        `json:"type"`
	Channel string        `json:"channel"`
	Items   []historyItem `json:"items"`
}

type historyItem struct {
	Channel    string `json:"channel"`
	FromIP     string `json:"fromIp"`
	Text       string `json:"text"`
	Ts         int64  `json:"ts"`
	From       string `json:"from,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	UUID       string `json:"uuid,omitempty"`
}

// pongFrame echoes the ping timestamp without recomputing it.
type pongFrame struct {
	Type string   `json:"type"`
	Ts   *float64 `json:"ts,omitempty"`
}

// sysFrame carries welcome notices and error diagnostics. A sysFrame with
// IP set is a connection-identity notice, not a displayable chat line.
type sysFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
	IP   string `json:"ip,omitempty"`
}

// parseFrame decodes one inbound frame. A decode failure is a protocol
// error: the frame is answered with a diagnostic and never dispatched.
func parseFrame(raw []byte) (inboundFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

// clampHistoryLimit resolves the effective history limit: the default when
// absent or non-numeric, otherwise clamped to the allowed range.
func clampHistoryLimit(limit looseLimit) int {
	if !limit.ok || math.IsNaN(limit.value) || math.IsInf(limit.value, 0) {
		return historyDefaultLimit
	}
	value := int(limit.value)
	if value < historyMinLimit {
		return historyMinLimit
	}
	if value > historyMaxLimit {
		return historyMaxLimit
	}
	return value
}

// channelOrDefault maps an absent channel to the well-known general channel.
func channelOrDefault(channel string) string {
	if channel == "" {
		return DefaultChannel
	}
	return channel
}

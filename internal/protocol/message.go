// Package protocol implements the JSON wire format spoken between the relay,
// the device agent and dashboard clients.
//
// Every frame is a single JSON object carrying a string "type" tag and,
// depending on the type, a "payload" object or "command"/"value" fields.
// Decode turns a frame into one of the concrete Message variants below; the
// set is closed, so consumers can switch over it exhaustively.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"pumprelay/relay-server/internal/model"
)

// Type is the value of an envelope's "type" field.
type Type string

// Inbound message types.
const (
	TypeIdentify      Type = "esp32-identify"
	TypeUploadLog     Type = "uploadLog"
	TypeGetLogs       Type = "getLogs"
	TypeClearLogs     Type = "clearLogs"
	TypeDeleteLogs    Type = "deleteLogs"
	TypeStatusUpdate  Type = "statusUpdate"
	TypeCommand       Type = "command"
	TypePing          Type = "ping"
	TypeRequestStatus Type = "requestStatus"
)

// Reply types emitted by the relay.
const (
	TypeLogHistory   Type = "logHistory"
	TypeError        Type = "error"
	TypePong         Type = "pong"
	TypeServerStatus Type = "serverStatus"
)

// ForceStatusUpdate is the synthetic command sent to the device when a
// dashboard asks for fresh status.
const ForceStatusUpdate = "FORCE_STATUS_UPDATE"

// Message is a decoded inbound frame.
type Message interface {
	Type() Type
	isMessage()
}

// Identify marks the sender as the device agent.
type Identify struct{}

// UploadLog carries one completed duty cycle from the device.
type UploadLog struct {
	Payload json.RawMessage
}

// GetLogs asks for stored duty cycles, optionally filtered by date.
type GetLogs struct {
	Payload json.RawMessage
}

// ClearLogs deletes stored duty cycles, optionally filtered by date.
// Alias records which of clearLogs/deleteLogs the sender used.
type ClearLogs struct {
	Alias   Type
	Payload json.RawMessage
}

// StatusUpdate is a device status snapshot. Raw holds the frame as received
// so it can be rebroadcast without re-encoding.
type StatusUpdate struct {
	Raw     []byte
	Payload json.RawMessage
}

// Command is an operator instruction for the device. Raw holds the frame as
// received and is forwarded verbatim.
type Command struct {
	Raw     []byte
	Command string
	Value   json.RawMessage
}

// Ping is an application-level keepalive.
type Ping struct{}

// RequestStatus asks whether the device is reachable.
type RequestStatus struct{}

// Unknown is any well-formed frame whose type the relay does not handle.
type Unknown struct {
	Name Type
}

func (Identify) Type() Type      { return TypeIdentify }
func (UploadLog) Type() Type     { return TypeUploadLog }
func (GetLogs) Type() Type       { return TypeGetLogs }
func (m ClearLogs) Type() Type   { return m.Alias }
func (StatusUpdate) Type() Type  { return TypeStatusUpdate }
func (Command) Type() Type       { return TypeCommand }
func (Ping) Type() Type          { return TypePing }
func (RequestStatus) Type() Type { return TypeRequestStatus }
func (m Unknown) Type() Type     { return m.Name }

func (Identify) isMessage()      {}
func (UploadLog) isMessage()     {}
func (GetLogs) isMessage()       {}
func (ClearLogs) isMessage()     {}
func (StatusUpdate) isMessage()  {}
func (Command) isMessage()       {}
func (Ping) isMessage()          {}
func (RequestStatus) isMessage() {}
func (Unknown) isMessage()       {}

type uploadLogPayload struct {
	MAC      string `json:"mac"`
	OnTime   string `json:"onTime"`
	OffTime  string `json:"offTime"`
	Duration string `json:"duration"`
}

// Entry validates the payload and returns the log entry it describes, without
// a timestamp.
func (m UploadLog) Entry() (model.LogEntry, error) {
	var p uploadLogPayload
	if len(m.Payload) == 0 {
		return model.LogEntry{}, fmt.Errorf("uploadLog: missing payload")
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return model.LogEntry{}, fmt.Errorf("uploadLog: decode payload: %w", err)
	}

	var missing []string
	if p.MAC == "" {
		missing = append(missing, "mac")
	}
	if p.OnTime == "" {
		missing = append(missing, "onTime")
	}
	if p.OffTime == "" {
		missing = append(missing, "offTime")
	}
	if p.Duration == "" {
		missing = append(missing, "duration")
	}
	if len(missing) > 0 {
		return model.LogEntry{}, fmt.Errorf("uploadLog: missing fields %s", strings.Join(missing, ", "))
	}

	return model.LogEntry{
		MAC:      p.MAC,
		OnTime:   p.OnTime,
		OffTime:  p.OffTime,
		Duration: p.Duration,
	}, nil
}

type rangePayload struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func parseRange(payload json.RawMessage) (model.DateRange, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return model.DateRange{}, nil
	}
	var p rangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DateRange{}, fmt.Errorf("%w: %v", model.ErrInvalidDateRange, err)
	}
	return model.ParseDateRange(p.StartDate, p.EndDate)
}

// Range returns the requested date filter.
func (m GetLogs) Range() (model.DateRange, error) { return parseRange(m.Payload) }

// Range returns the requested date filter.
func (m ClearLogs) Range() (model.DateRange, error) { return parseRange(m.Payload) }

// Status decodes the status snapshot.
func (m StatusUpdate) Status() (model.StatusPayload, error) {
	var p model.StatusPayload
	if len(m.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("statusUpdate: decode payload: %w", err)
	}
	return p, nil
}

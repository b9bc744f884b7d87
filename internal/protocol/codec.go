package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"pumprelay/relay-server/internal/model"
)

// ErrMalformedMessage is returned by Decode for frames that are not a JSON
// object with a string "type" field.
var ErrMalformedMessage = errors.New("malformed message")

type envelope struct {
	Type    json.RawMessage `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Command json.RawMessage `json:"command"`
	Value   json.RawMessage `json:"value"`
}

// Decode parses a raw text frame into its Message variant. Only the envelope
// is validated; payload contents are left to the handlers.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var name string
	if len(env.Type) == 0 {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if err := json.Unmarshal(env.Type, &name); err != nil || name == "" {
		return nil, fmt.Errorf("%w: type is not a non-empty string", ErrMalformedMessage)
	}

	switch Type(name) {
	case TypeIdentify:
		return Identify{}, nil
	case TypeUploadLog:
		return UploadLog{Payload: env.Payload}, nil
	case TypeGetLogs:
		return GetLogs{Payload: env.Payload}, nil
	case TypeClearLogs, TypeDeleteLogs:
		return ClearLogs{Alias: Type(name), Payload: env.Payload}, nil
	case TypeStatusUpdate:
		return StatusUpdate{Raw: cloneFrame(frame), Payload: env.Payload}, nil
	case TypeCommand:
		var command string
		// A non-string command is still forwarded; the device decides.
		_ = json.Unmarshal(env.Command, &command)
		return Command{Raw: cloneFrame(frame), Command: command, Value: env.Value}, nil
	case TypePing:
		return Ping{}, nil
	case TypeRequestStatus:
		return RequestStatus{}, nil
	default:
		return Unknown{Name: Type(name)}, nil
	}
}

func cloneFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}

type logHistoryReply struct {
	Type         Type             `json:"type"`
	Payload      []model.LogEntry `json:"payload"`
	DeletedCount *int64           `json:"deletedCount,omitempty"`
}

type errorReply struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type serverStatusReply struct {
	Type         Type `json:"type"`
	DeviceOnline bool `json:"deviceOnline"`
}

type commandFrame struct {
	Type    Type            `json:"type"`
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// LogHistory encodes a logHistory reply. A nil slice is sent as [].
func LogHistory(entries []model.LogEntry) []byte {
	if entries == nil {
		entries = []model.LogEntry{}
	}
	return mustMarshal(logHistoryReply{Type: TypeLogHistory, Payload: entries})
}

// LogHistoryAfterDelete encodes the reply to clearLogs/deleteLogs.
func LogHistoryAfterDelete(entries []model.LogEntry, deleted int64) []byte {
	if entries == nil {
		entries = []model.LogEntry{}
	}
	return mustMarshal(logHistoryReply{Type: TypeLogHistory, Payload: entries, DeletedCount: &deleted})
}

// Error encodes a typed error reply.
func Error(message string) []byte {
	return mustMarshal(errorReply{Type: TypeError, Message: message})
}

// Pong encodes the reply to ping.
func Pong() []byte {
	return mustMarshal(struct {
		Type Type `json:"type"`
	}{Type: TypePong})
}

// ServerStatus encodes the device reachability report.
func ServerStatus(deviceOnline bool) []byte {
	return mustMarshal(serverStatusReply{Type: TypeServerStatus, DeviceOnline: deviceOnline})
}

// CommandFrame encodes a command addressed to the device.
func CommandFrame(command string) []byte {
	return mustMarshal(commandFrame{Type: TypeCommand, Command: command})
}

// CommandValueFrame encodes a command carrying a value. An empty value is
// omitted.
func CommandValueFrame(command string, value json.RawMessage) []byte {
	return mustMarshal(commandFrame{Type: TypeCommand, Command: command, Value: value})
}

// ForceStatusCommand is the command forwarded on requestStatus.
func ForceStatusCommand() []byte {
	return CommandFrame(ForceStatusUpdate)
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return data
}

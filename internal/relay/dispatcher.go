// Package relay routes decoded protocol messages between the device agent,
// dashboard connections and the log store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pumprelay/relay-server/internal/metrics"
	"pumprelay/relay-server/internal/protocol"
	"pumprelay/relay-server/internal/registry"
	"pumprelay/relay-server/internal/store"
)

// LogsPolicy decides how getLogs treats missing date bounds.
type LogsPolicy string

const (
	// LogsLenient answers any combination of bounds, including none.
	LogsLenient LogsPolicy = "lenient"
	// LogsStrict rejects getLogs unless both bounds are present.
	LogsStrict LogsPolicy = "strict"
)

// IdentifyPolicy decides what happens when a second connection identifies as
// the device while another one holds the slot.
type IdentifyPolicy string

const (
	// IdentifyReplace lets the newest identify win.
	IdentifyReplace IdentifyPolicy = "replace"
	// IdentifyReject refuses the newcomer while the current device is open.
	IdentifyReject IdentifyPolicy = "reject"
)

// Error replies sent to dashboards.
const (
	MsgDeviceOffline      = "Device Offline (No Socket)."
	MsgDeviceDisconnected = "Device Disconnected (Socket Closed)."
	MsgDeviceRegistered   = "Device already registered."
	MsgInvalidDateRange   = "Invalid date range."
	MsgDateRangeRequired  = "Both startDate and endDate are required."
	MsgFetchLogsFailed    = "Failed to fetch logs."
	MsgDeleteLogsFailed   = "Failed to delete logs."
)

var (
	// ErrDeviceOffline means no connection has identified as the device.
	ErrDeviceOffline = errors.New("device offline")
	// ErrDeviceDisconnected means the device slot held a connection that is
	// no longer usable. The slot is cleared when this is returned.
	ErrDeviceDisconnected = errors.New("device disconnected")
)

// StatusSink receives every status update accepted from the device.
type StatusSink interface {
	PublishStatus(frame []byte)
}

// Options tunes dispatcher behaviour.
type Options struct {
	LogsPolicy     LogsPolicy
	IdentifyPolicy IdentifyPolicy
	// StoreTimeout bounds each log store call; zero disables the bound.
	StoreTimeout time.Duration
	// Now stamps uploaded log entries. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher handles every inbound frame. It is safe for concurrent use:
// each connection calls Dispatch from its own read loop.
type Dispatcher struct {
	registry *registry.Registry
	store    *store.Gateway
	logger   *slog.Logger
	metrics  *metrics.RelayMetrics
	sink     StatusSink
	opts     Options
}

// New constructs a dispatcher. sink may be nil.
func New(reg *registry.Registry, gw *store.Gateway, logger *slog.Logger, m *metrics.RelayMetrics, sink StatusSink, opts Options) *Dispatcher {
	if opts.LogsPolicy == "" {
		opts.LogsPolicy = LogsLenient
	}
	if opts.IdentifyPolicy == "" {
		opts.IdentifyPolicy = IdentifyReplace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		registry: reg,
		store:    gw,
		logger:   logger,
		metrics:  m,
		sink:     sink,
		opts:     opts,
	}
}

// Registry returns the connection registry the dispatcher routes through.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Connected registers a newly opened connection.
func (d *Dispatcher) Connected(c registry.Conn) {
	d.registry.Register(c)
	d.metrics.Connections.Set(float64(d.registry.Len()))
	d.logger.Debug("connection registered", "conn", c.ID())
}

// Disconnected removes a closed connection. If it was the device, dashboards
// are told the device went offline.
func (d *Dispatcher) Disconnected(c registry.Conn) {
	wasDevice := d.registry.Unregister(c)
	d.metrics.Connections.Set(float64(d.registry.Len()))
	if !wasDevice {
		d.logger.Debug("connection unregistered", "conn", c.ID())
		return
	}

	d.metrics.DeviceOnline.Set(0)
	d.logger.Warn("device disconnected", "conn", c.ID())
	d.registry.Broadcast(protocol.ServerStatus(false), nil)
}

// Dispatch decodes one frame from sender and handles it to completion.
// Malformed frames are logged and dropped; no frame can close the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, sender registry.Conn, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		d.metrics.MalformedFramesTotal.Inc()
		d.logger.Warn("dropping malformed frame", "conn", sender.ID(), "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panic", "conn", sender.ID(), "type", msg.Type(), "panic", r)
		}
	}()

	switch m := msg.(type) {
	case protocol.Identify:
		d.count("esp32-identify")
		d.handleIdentify(sender)
	case protocol.UploadLog:
		d.count("uploadLog")
		d.handleUploadLog(ctx, sender, m)
	case protocol.GetLogs:
		d.count("getLogs")
		d.handleGetLogs(ctx, sender, m)
	case protocol.ClearLogs:
		d.count(string(m.Alias))
		d.handleClearLogs(ctx, sender, m)
	case protocol.StatusUpdate:
		d.count("statusUpdate")
		d.handleStatusUpdate(sender, m)
	case protocol.Command:
		d.count("command")
		d.handleCommand(sender, m)
	case protocol.Ping:
		d.count("ping")
		d.reply(sender, protocol.Pong())
	case protocol.RequestStatus:
		d.count("requestStatus")
		d.handleRequestStatus(sender)
	case protocol.Unknown:
		d.count("unknown")
		d.logger.Debug("ignoring unknown message type", "conn", sender.ID(), "type", m.Name)
	default:
		panic(fmt.Sprintf("relay: unhandled message variant %T", msg))
	}
}

func (d *Dispatcher) count(msgType string) {
	d.metrics.MessagesTotal.WithLabelValues(msgType).Inc()
}

func (d *Dispatcher) reply(c registry.Conn, msg []byte) {
	if err := c.Send(msg); err != nil {
		d.logger.Debug("reply failed", "conn", c.ID(), "error", err)
	}
}

func (d *Dispatcher) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.opts.StoreTimeout)
}

// dashboards broadcasts msg to every connection except the device.
func (d *Dispatcher) dashboards(msg []byte) int {
	return d.registry.Broadcast(msg, d.registry.NotDevice())
}

package relay

import (
	"context"
	"errors"
	"fmt"

	"pumprelay/relay-server/internal/model"
	"pumprelay/relay-server/internal/protocol"
	"pumprelay/relay-server/internal/registry"
	"pumprelay/relay-server/internal/store"
)

func (d *Dispatcher) handleIdentify(sender registry.Conn) {
	if d.registry.IsDevice(sender) {
		d.logger.Debug("device re-identified", "conn", sender.ID())
		return
	}

	if d.opts.IdentifyPolicy == IdentifyReject {
		if current := d.registry.Device(); current != nil && current.Open() {
			d.logger.Warn("rejecting duplicate device identify", "conn", sender.ID(), "device", current.ID())
			d.reply(sender, protocol.Error(MsgDeviceRegistered))
			return
		}
	}

	if previous := d.registry.MarkAsDevice(sender); previous != nil {
		d.logger.Warn("device slot taken over", "conn", sender.ID(), "previous", previous.ID())
	} else {
		d.logger.Info("device identified", "conn", sender.ID())
	}
	d.metrics.DeviceOnline.Set(1)
	d.dashboards(protocol.ServerStatus(true))
}

func (d *Dispatcher) handleUploadLog(ctx context.Context, sender registry.Conn, m protocol.UploadLog) {
	entry, err := m.Entry()
	if err != nil {
		d.logger.Warn("invalid log upload", "conn", sender.ID(), "error", err)
		return
	}
	entry.Timestamp = d.opts.Now().UTC()

	storeCtx, cancel := d.storeContext(ctx)
	defer cancel()

	if err := d.store.Create(storeCtx, entry); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			d.logger.Error("failed to persist duty cycle log", "conn", sender.ID(), "mac", entry.MAC, "error", err)
		}
		return
	}

	d.logger.Info("duty cycle logged", "mac", entry.MAC, "duration", entry.Duration)
}

func (d *Dispatcher) handleGetLogs(ctx context.Context, sender registry.Conn, m protocol.GetLogs) {
	r, err := m.Range()
	if err != nil {
		d.logger.Warn("invalid getLogs range", "conn", sender.ID(), "error", err)
		d.reply(sender, protocol.Error(MsgInvalidDateRange))
		return
	}
	if d.opts.LogsPolicy == LogsStrict && !r.Complete() {
		d.reply(sender, protocol.Error(MsgDateRangeRequired))
		return
	}

	entries, err := d.FindLogs(ctx, r)
	if err != nil {
		d.reply(sender, protocol.Error(MsgFetchLogsFailed))
		return
	}
	d.reply(sender, protocol.LogHistory(entries))
}

// FindLogs queries the store. An unavailable store yields an empty result
// and no error; only a failing store returns an error.
func (d *Dispatcher) FindLogs(ctx context.Context, r model.DateRange) ([]model.LogEntry, error) {
	storeCtx, cancel := d.storeContext(ctx)
	defer cancel()

	entries, err := d.store.Find(storeCtx, r)
	switch {
	case errors.Is(err, store.ErrUnavailable):
		d.logger.Warn("log store unavailable, returning empty history")
		return []model.LogEntry{}, nil
	case err != nil:
		d.logger.Error("failed to fetch logs", "error", err)
		return nil, err
	}
	return entries, nil
}

func (d *Dispatcher) handleClearLogs(ctx context.Context, sender registry.Conn, m protocol.ClearLogs) {
	r, err := m.Range()
	if err != nil {
		d.logger.Warn("invalid delete range", "conn", sender.ID(), "error", err)
		d.reply(sender, protocol.Error(MsgInvalidDateRange))
		return
	}

	deleted, err := d.DeleteLogs(ctx, r)
	if err != nil {
		d.reply(sender, protocol.Error(MsgDeleteLogsFailed))
		return
	}

	if r.Unbounded() {
		d.reply(sender, protocol.LogHistoryAfterDelete(nil, deleted))
		return
	}

	remaining, err := d.FindLogs(ctx, model.DateRange{})
	if err != nil {
		d.reply(sender, protocol.Error(MsgFetchLogsFailed))
		return
	}
	d.reply(sender, protocol.LogHistoryAfterDelete(remaining, deleted))
}

// DeleteLogs removes entries inside r. An unavailable store deletes nothing
// and returns no error.
func (d *Dispatcher) DeleteLogs(ctx context.Context, r model.DateRange) (int64, error) {
	storeCtx, cancel := d.storeContext(ctx)
	defer cancel()

	deleted, err := d.store.DeleteMany(storeCtx, r)
	switch {
	case errors.Is(err, store.ErrUnavailable):
		d.logger.Warn("log store unavailable, nothing deleted")
		return 0, nil
	case err != nil:
		d.logger.Error("failed to delete logs", "error", err)
		return 0, err
	}

	d.logger.Info("logs deleted", "count", deleted, "full", r.Unbounded())
	return deleted, nil
}

func (d *Dispatcher) handleStatusUpdate(sender registry.Conn, m protocol.StatusUpdate) {
	if !d.registry.IsDevice(sender) {
		d.logger.Debug("ignoring status update from non-device", "conn", sender.ID())
		return
	}

	delivered := d.dashboards(m.Raw)
	d.metrics.StatusBroadcastsTotal.Add(float64(delivered))

	if status, err := m.Status(); err == nil {
		d.logger.Debug("device status", "motor", status.MotorStatus, "mode", status.SystemMode, "door", status.DoorStatus, "dashboards", delivered)
	}

	if d.sink != nil {
		d.sink.PublishStatus(m.Raw)
	}
}

func (d *Dispatcher) handleCommand(sender registry.Conn, m protocol.Command) {
	err := d.ForwardToDevice(m.Raw)
	switch {
	case err == nil:
		d.metrics.CommandsForwardedTotal.Inc()
		d.logger.Info("command forwarded", "conn", sender.ID(), "command", m.Command)
	case errors.Is(err, ErrDeviceOffline):
		d.metrics.CommandFailuresTotal.WithLabelValues("offline").Inc()
		d.logger.Warn("command dropped, no device", "conn", sender.ID(), "command", m.Command)
		d.reply(sender, protocol.Error(MsgDeviceOffline))
	default:
		d.metrics.CommandFailuresTotal.WithLabelValues("disconnected").Inc()
		d.logger.Warn("command dropped, device socket unusable", "conn", sender.ID(), "command", m.Command, "error", err)
		d.reply(sender, protocol.Error(MsgDeviceDisconnected))
	}
}

func (d *Dispatcher) handleRequestStatus(sender registry.Conn) {
	online := d.DeviceOnline()
	d.reply(sender, protocol.ServerStatus(online))
	if !online {
		return
	}

	if err := d.ForwardToDevice(protocol.ForceStatusCommand()); err != nil {
		d.logger.Warn("status refresh not delivered", "error", err)
	}
}

// DeviceOnline reports whether an open device connection is registered. A
// stale slot occupant is evicted.
func (d *Dispatcher) DeviceOnline() bool {
	device := d.registry.Device()
	if device == nil {
		return false
	}
	if !device.Open() {
		d.evict(device)
		return false
	}
	return true
}

// ForwardToDevice sends frame to the device verbatim. It returns
// ErrDeviceOffline when the slot is empty and ErrDeviceDisconnected when the
// occupant is closed or the send fails; in the latter case the slot is
// cleared.
func (d *Dispatcher) ForwardToDevice(frame []byte) error {
	device := d.registry.Device()
	if device == nil {
		return ErrDeviceOffline
	}
	if !device.Open() {
		d.evict(device)
		return ErrDeviceDisconnected
	}
	if err := device.Send(frame); err != nil {
		d.evict(device)
		return fmt.Errorf("%w: %w", ErrDeviceDisconnected, err)
	}
	return nil
}

func (d *Dispatcher) evict(device registry.Conn) {
	if !d.registry.ClearDevice(device) {
		return
	}
	d.metrics.DeviceOnline.Set(0)
	d.logger.Warn("evicted stale device connection", "conn", device.ID())
	d.registry.Broadcast(protocol.ServerStatus(false), nil)
}

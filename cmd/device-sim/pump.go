package main

import (
	"fmt"
	"time"

	"pumprelay/relay-server/internal/model"
)

// Commands accepted by the simulated pump controller.
const (
	cmdMotorOn  = "MOTOR_ON"
	cmdMotorOff = "MOTOR_OFF"
	cmdAuto     = "SET_AUTO"
	cmdManual   = "SET_MANUAL"
)

// pump models the controller state the firmware reports.
type pump struct {
	mac       string
	localIP   string
	wsHost    string
	motorOn   bool
	auto      bool
	lastEvent string
	onSince   time.Time
}

func newPump(mac, localIP, wsHost string) *pump {
	return &pump{mac: mac, localIP: localIP, wsHost: wsHost, auto: true, lastEvent: "Boot"}
}

// apply executes a command. It returns the finished duty cycle when the
// command turned the motor off, and whether the command was recognised.
func (p *pump) apply(command string, now time.Time) (*model.LogEntry, bool) {
	switch command {
	case cmdMotorOn:
		p.lastEvent = "Manual ON"
		p.turnOn(now)
		return nil, true
	case cmdMotorOff:
		p.lastEvent = "Manual OFF"
		return p.turnOff(now), true
	case cmdAuto:
		p.auto = true
		p.lastEvent = "Mode AUTO"
		return nil, true
	case cmdManual:
		p.auto = false
		p.lastEvent = "Mode MANUAL"
		return nil, true
	default:
		return nil, false
	}
}

// toggle flips the motor as the float switch would in auto mode.
func (p *pump) toggle(now time.Time) *model.LogEntry {
	if !p.auto {
		return nil
	}
	if p.motorOn {
		p.lastEvent = "Auto OFF"
		return p.turnOff(now)
	}
	p.lastEvent = "Auto ON"
	p.turnOn(now)
	return nil
}

func (p *pump) turnOn(now time.Time) {
	if p.motorOn {
		return
	}
	p.motorOn = true
	p.onSince = now
}

func (p *pump) turnOff(now time.Time) *model.LogEntry {
	if !p.motorOn {
		return nil
	}
	p.motorOn = false
	return &model.LogEntry{
		MAC:      p.mac,
		OnTime:   p.onSince.Format("15:04:05"),
		OffTime:  now.Format("15:04:05"),
		Duration: formatDuration(now.Sub(p.onSince)),
	}
}

func (p *pump) status(wifi int) model.StatusPayload {
	s := model.StatusPayload{
		MotorStatus: "OFF",
		SystemMode:  "MANUAL",
		DoorStatus:  "CLOSED",
		LastAction:  p.lastEvent,
		WifiSignal:  wifi,
		LocalIP:     p.localIP,
		WSHost:      p.wsHost,
	}
	if p.motorOn {
		s.MotorStatus = "ON"
	}
	if p.auto {
		s.SystemMode = "AUTO"
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

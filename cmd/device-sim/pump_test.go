package main

import (
	"errors"
	"testing"
	"time"

	"pumprelay/relay-server/internal/model"
)

func TestPumpDutyCycle(t *testing.T) {
	t.Parallel()
	p := newPump("AA:BB", "10.0.0.2", "relay.local:8080")
	on := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

	if entry, ok := p.apply(cmdMotorOn, on); !ok || entry != nil {
		t.Fatalf("MOTOR_ON: got (%v, %v)", entry, ok)
	}
	// A second ON keeps the original start.
	p.apply(cmdMotorOn, on.Add(time.Minute))

	entry, ok := p.apply(cmdMotorOff, on.Add(5*time.Minute+16*time.Second))
	if !ok || entry == nil {
		t.Fatal("MOTOR_OFF did not finish a duty cycle")
	}
	want := model.LogEntry{MAC: "AA:BB", OnTime: "07:00:00", OffTime: "07:05:16", Duration: "5m 16s"}
	if *entry != want {
		t.Errorf("entry: got %+v, want %+v", *entry, want)
	}

	if entry, _ := p.apply(cmdMotorOff, on.Add(time.Hour)); entry != nil {
		t.Errorf("OFF while off produced %+v", entry)
	}
	if _, ok := p.apply("SELF_DESTRUCT", on); ok {
		t.Error("unknown command accepted")
	}
}

func TestPumpToggleOnlyInAuto(t *testing.T) {
	t.Parallel()
	p := newPump("AA:BB", "", "")
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

	if entry := p.toggle(now); entry != nil || !p.motorOn {
		t.Fatalf("auto toggle on: entry=%v motorOn=%v", entry, p.motorOn)
	}
	if entry := p.toggle(now.Add(2 * time.Hour)); entry == nil || entry.Duration != "2h 0m 0s" {
		t.Fatalf("auto toggle off: got %+v", entry)
	}

	p.apply(cmdManual, now)
	if p.toggle(now); p.motorOn {
		t.Error("toggle ran in manual mode")
	}
}

func TestPumpStatus(t *testing.T) {
	t.Parallel()
	p := newPump("AA:BB", "10.0.0.2", "relay.local:8080")
	p.apply(cmdMotorOn, time.Now())

	s := p.status(-55)
	if s.MotorStatus != "ON" || s.SystemMode != "AUTO" || s.WifiSignal != -55 || s.WSHost != "relay.local:8080" || s.LastAction != "Manual ON" {
		t.Errorf("status: got %+v", s)
	}
}

func TestHandleCommand(t *testing.T) {
	t.Parallel()
	p := newPump("AA:BB", "", "")

	var uploads []*model.LogEntry
	statuses := 0
	upload := func(e *model.LogEntry) error {
		if e != nil {
			uploads = append(uploads, e)
		}
		return nil
	}
	sendStatus := func() error { statuses++; return nil }

	for _, cmd := range []string{"FORCE_STATUS_UPDATE", cmdMotorOn, cmdMotorOff, "BOGUS"} {
		if err := handleCommand(p, cmd, upload, sendStatus); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	if len(uploads) != 1 {
		t.Errorf("uploads: got %d, want 1", len(uploads))
	}
	if statuses != 3 {
		t.Errorf("status updates: got %d, want 3", statuses)
	}

	boom := errors.New("socket closed")
	if err := handleCommand(p, "FORCE_STATUS_UPDATE", upload, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("send failure: got %v", err)
	}
}

func TestRandomRSSI(t *testing.T) {
	t.Parallel()
	if got := randomRSSI(-60, 0); got != -60 {
		t.Errorf("no jitter: got %d", got)
	}
	for i := 0; i < 100; i++ {
		if got := randomRSSI(-60, 5); got < -65 || got > -55 {
			t.Fatalf("out of range: %d", got)
		}
	}
}

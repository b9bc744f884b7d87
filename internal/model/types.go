package model

import "time"

// LogEntry records one completed motor ON→OFF interval reported by the device.
// OnTime, OffTime and Duration are human-formatted by the device and are stored
// verbatim. Timestamp is assigned by the relay at ingestion.
type LogEntry struct {
	ID        string    `json:"_id,omitempty" bson:"_id,omitempty"`
	MAC       string    `json:"mac" bson:"mac"`
	OnTime    string    `json:"onTime" bson:"onTime"`
	OffTime   string    `json:"offTime" bson:"offTime"`
	Duration  string    `json:"duration" bson:"duration"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// StatusPayload is the snapshot the device publishes with every statusUpdate.
type StatusPayload struct {
	MotorStatus string `json:"motorStatus"`
	SystemMode  string `json:"systemMode"`
	DoorStatus  string `json:"doorStatus"`
	LastAction  string `json:"lastAction"`
	WifiSignal  int    `json:"wifiSignal"`
	LocalIP     string `json:"localIP"`
	WSHost      string `json:"wsHost"`
}

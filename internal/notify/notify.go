// Package notify publishes controller events over MQTT, buffering them
// while disconnected and replaying on reconnect. Adapted from the
// teacher's internal/mqtt package (sweeney-boiler-sensor), generalized
// from a fixed CH/HW boiler event to the sprinkler controller's event
// set (spec.md §6).
package notify

import (
	"encoding/json"
	"time"
)

// EventType identifies one of the controller's notification events
// (spec.md §6): PROGRAM_SCHED, STATION_ON, STATION_OFF, FLOW_ALERT,
// RAINDELAY, SENSOR1, SENSOR2, WEATHER_UPDATE, FLOWSENSOR, REBOOT.
type EventType string

const (
	ProgramSched  EventType = "PROGRAM_SCHED"
	StationOn     EventType = "STATION_ON"
	StationOff    EventType = "STATION_OFF"
	FlowAlert     EventType = "FLOW_ALERT"
	RainDelay     EventType = "RAINDELAY"
	Sensor1       EventType = "SENSOR1"
	Sensor2       EventType = "SENSOR2"
	WeatherUpdate EventType = "WEATHER_UPDATE"
	FlowSensor    EventType = "FLOWSENSOR"
	Reboot        EventType = "REBOOT"
)

// NoStation marks an Event that doesn't refer to a particular station.
const NoStation = 0xFF

// Event is one controller notification, mirroring notif.add()'s
// (type, station, value, ...) shape.
type Event struct {
	Type      EventType
	Station   uint8 // NoStation when not applicable
	Value     int32
	SubValue  int32
	Timestamp time.Time
}

// Topic is the MQTT topic the controller publishes events to.
const Topic = "sprinklerd/events"

// Publisher publishes events to a broker. Implementations must not
// block the tick loop for long; Publish failures are logged, not fatal.
type Publisher interface {
	Publish(event Event) error
	Close() error
}

// ConnectionStatus reports whether the underlying transport is up, used
// to gate draining the offline buffer.
type ConnectionStatus interface {
	IsConnected() bool
}

// eventPayload is the wire JSON shape for one event.
type eventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Station   *int   `json:"station,omitempty"`
	Value     int32  `json:"value"`
	SubValue  int32  `json:"sub_value,omitempty"`
}

// FormatPayload serializes event the way the broker-facing topic expects.
func FormatPayload(event Event) ([]byte, error) {
	p := eventPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Value:     event.Value,
		SubValue:  event.SubValue,
	}
	if event.Station != NoStation {
		s := int(event.Station)
		p.Station = &s
	}
	return json.Marshal(p)
}

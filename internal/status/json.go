package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	ProgramBusy   bool          `json:"program_busy"`
	Paused        bool          `json:"paused"`
	PauseTimer    int32         `json:"pause_timer_seconds,omitempty"`
	RainDelayed   bool          `json:"rain_delayed"`
	Sensor1Active bool          `json:"sensor1_active"`
	Sensor2Active bool          `json:"sensor2_active"`
	WaterPercent  int           `json:"water_percent"`
	InstantGPM    uint32        `json:"instant_gpm"`
	Stations      []StationJSON `json:"stations"`
	LastRun       *LastRunJSON  `json:"last_run,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Notifier      NotifierJSON  `json:"notifier"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// StationJSON is the JSON representation of one valve's display state.
type StationJSON struct {
	SID     uint8 `json:"sid"`
	Running bool  `json:"running"`
	PID     uint8 `json:"pid,omitempty"`
	EndTime int32 `json:"end_time,omitempty"`
}

// LastRunJSON is the JSON representation of the most recently completed run.
type LastRunJSON struct {
	SID uint8   `json:"sid"`
	PID uint8   `json:"pid"`
	GPM float64 `json:"gpm,omitempty"`
}

// NotifierJSON reports the notifier transport's connection state.
type NotifierJSON struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	MQTTBroker     string `json:"mqtt_broker"`
	HTTPAddr       string `json:"http_addr"`
	StationDelayS  int32  `json:"station_delay_seconds"`
	LoggingEnabled bool   `json:"logging_enabled"`
	NStations      int    `json:"num_stations"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		ProgramBusy:   snap.ProgramBusy,
		Paused:        snap.Paused,
		PauseTimer:    snap.PauseTimer,
		RainDelayed:   snap.RainDelayed,
		Sensor1Active: snap.Sensor1Active,
		Sensor2Active: snap.Sensor2Active,
		WaterPercent:  snap.WaterPercent,
		InstantGPM:    snap.InstantGPM,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Notifier:      NotifierJSON{Connected: snap.NotifierUp, Broker: snap.Config.MQTTBroker},
		Config: ConfigJSON{
			MQTTBroker:     snap.Config.MQTTBroker,
			HTTPAddr:       snap.Config.HTTPAddr,
			StationDelayS:  snap.Config.StationDelayS,
			LoggingEnabled: snap.Config.LoggingEnabled,
			NStations:      snap.Config.NStations,
		},
	}

	for _, s := range snap.Stations {
		inner.Stations = append(inner.Stations, StationJSON{SID: s.SID, Running: s.Running, PID: s.PID, EndTime: s.EndTime})
	}
	if snap.LastRunPID != 0 {
		inner.LastRun = &LastRunJSON{SID: snap.LastRunSID, PID: snap.LastRunPID, GPM: snap.LastRunGPM}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web/websocket endpoints
// (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a notifier system event
// (startup/shutdown/reboot).
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Package controller wires together the clock, sensors, matcher,
// scheduler, station machine, log writer, and notifier into the single
// owning aggregate that drives one tick of the sprinkler core (spec.md
// §4.8-4.10, §6-§7 C8). Grounded on do_loop() in
// original_source/main.cpp:546-1132.
package controller

import (
	"time"

	"github.com/sprinklerd/sprinklerd/internal/clock"
	"github.com/sprinklerd/sprinklerd/internal/flow"
	"github.com/sprinklerd/sprinklerd/internal/hal"
	"github.com/sprinklerd/sprinklerd/internal/logstore"
	"github.com/sprinklerd/sprinklerd/internal/notify"
	"github.com/sprinklerd/sprinklerd/internal/program"
	"github.com/sprinklerd/sprinklerd/internal/runtime"
	"github.com/sprinklerd/sprinklerd/internal/scheduler"
	"github.com/sprinklerd/sprinklerd/internal/sensor"
	"github.com/sprinklerd/sprinklerd/internal/station"
)

const ntpSyncIntervalSeconds = 3600
const checkNetworkIntervalSeconds = 60
const ntpAnomalyRejectWindow = 3

// WeatherMethod identifies how the current water percentage was set,
// per spec.md §4.8's exemption list for the no-successful-call timeout.
type WeatherMethod int

const (
	WeatherMethodManual WeatherMethod = iota
	WeatherMethodAutoRainDelay
	WeatherMethodMonthly
	WeatherMethodService
)

// WeatherProvider supplies the external weather-adjustment service
// (spec.md §1 Out-of-scope external collaborator).
type WeatherProvider interface {
	// Check returns a new water percentage and whether the call
	// succeeded; callers should treat ok=false as "no update this time".
	Check(now int32) (percent int, ok bool)
}

// NTPSyncer supplies wall-clock corrections (spec.md §1 Out-of-scope).
type NTPSyncer interface {
	Sync() (offsetSeconds int32, ok bool)
}

// NetworkChecker reports connectivity, gating the weather check; NTP
// sync and notifier replay run regardless (spec.md §1 Out-of-scope).
type NetworkChecker interface {
	Connected() bool
}

// ProgramSwitchReader reads the debounced program-switch input, whose
// bit 0 manually starts program 1 and bit 1 program 2 (spec.md §4.8).
// Each manual start resets the queue, so with both bits set only
// program 2 is left running.
type ProgramSwitchReader interface {
	Status(now int32) uint8
}

// ProgramStore is the persistent program collection the matcher and
// manual-start both consume (spec.md §1 Out-of-scope).
type ProgramStore = program.Store

// Options mirrors the subset of the firmware's iopts[] the controller
// consults directly (spec.md §6).
type Options struct {
	RainDelayStopTime  int32
	MasterStationID    uint8 // 1-based, 0 = unset
	MasterStation2ID   uint8
	Sensor1Kind        station.SensorKind
	Sensor2Kind        station.SensorKind
	RemoteExtMode      bool
	LoggingEnabled     bool
	WaterPercent       int
	WeatherMethod      WeatherMethod
	NTPEnabled         bool
	SafeRebootPending  bool
	StationDelaySeconds int32
}

// Controller is the single owning aggregate replacing the firmware's os/
// pd/notif globals. Not safe for concurrent use; Tick runs on the main
// loop goroutine only.
type Controller struct {
	clk     clock.Clock
	sensors *sensor.Monitor
	sampler *flow.Sampler
	matcher *program.Matcher
	sched   *scheduler.Scheduler
	machine *station.Machine
	queue   *runtime.Queue
	logs    *logstore.Writer
	notify  *notify.Service
	store   ProgramStore

	stations     []program.Station
	masters      []program.MasterZone
	stationDelay int32

	weather WeatherProvider
	ntp     NTPSyncer
	network NetworkChecker
	pswitch ProgramSwitchReader

	opts Options

	lastMinute        int32
	lastTick          int32

	rainDelayed       bool
	sensor1Active     bool
	sensor2Active     bool
	sensor1LastTime   int32
	sensor2LastTime   int32
	lastNTPResult     int32
	hasLastNTP        bool
	lastWeatherOK     int32
	rebootTimer       int32
	rebootCause       string
	flowCountLogStart uint32

	valve hal.ValveLatch
}

// Deps bundles the collaborators a Controller needs at construction.
type Deps struct {
	Clock     clock.Clock
	Valve     hal.ValveLatch
	Sampler   *flow.Sampler
	Store     ProgramStore
	Resolver  program.Resolver
	Notifier  notify.Publisher
	Logs      *logstore.Writer
	Weather   WeatherProvider
	NTP       NTPSyncer
	Network   NetworkChecker
	PSwitch   ProgramSwitchReader
	Stations  []program.Station
	Masters   []program.MasterZone
	NStations int
}

// New assembles a Controller from deps.
func New(deps Deps, opts Options) *Controller {
	q := runtime.NewQueue(64, deps.NStations)
	notifySvc := notify.NewService(deps.Notifier, nil)
	machine := station.NewMachine(deps.Stations, deps.Masters, deps.Valve, q, deps.Sampler, notifySvc, opts.StationDelay(), deps.NStations)
	machine.EnableFlowSensor(opts.Sensor1Kind == station.SensorFlow)
	matcher := program.NewMatcher(deps.Stations, deps.Masters, deps.Resolver)
	matcher.SetWaterPercent(opts.WaterPercent)
	sched := scheduler.NewScheduler(deps.Stations, deps.Masters, opts.StationDelay())

	return &Controller{
		clk:          deps.Clock,
		sensors:      sensor.NewMonitor(500 * time.Millisecond),
		sampler:      deps.Sampler,
		matcher:      matcher,
		sched:        sched,
		machine:      machine,
		queue:        q,
		logs:         deps.Logs,
		notify:       notifySvc,
		store:        deps.Store,
		stations:     deps.Stations,
		masters:      deps.Masters,
		stationDelay: opts.StationDelay(),
		weather:      deps.Weather,
		ntp:          deps.NTP,
		network:      deps.Network,
		pswitch:      deps.PSwitch,
		opts:         opts,
		valve:        deps.Valve,
	}
}

// StationDelay exposes the configured inter-station delay in seconds.
func (o Options) StationDelay() int32 { return o.StationDelaySeconds }

// Machine exposes the underlying station machine for status reporting.
func (c *Controller) Machine() *station.Machine { return c.machine }

// Queue exposes the runtime queue for status reporting.
func (c *Controller) Queue() *runtime.Queue { return c.queue }

// RainDelayed reports the current rain-delay gate, for status reporting.
func (c *Controller) RainDelayed() bool { return c.rainDelayed }

// SensorsActive reports the current debounced state of both sensor
// channels, for status reporting.
func (c *Controller) SensorsActive() (sensor1, sensor2 bool) { return c.sensor1Active, c.sensor2Active }

// WaterPercent reports the currently applied water-percentage scale.
func (c *Controller) WaterPercent() int { return c.opts.WaterPercent }

// InstantFlowRate exposes the flow sampler's live instantaneous rate,
// for status reporting.
func (c *Controller) InstantFlowRate() uint32 { return c.sampler.InstantaneousRate() }

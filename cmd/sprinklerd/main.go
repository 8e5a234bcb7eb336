// Command sprinklerd runs the irrigation controller core: it ticks the
// station state machine once a second, matches user programs once a
// minute, and exposes the resulting valve state over MQTT and HTTP/ws.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sprinklerd/sprinklerd/internal/clock"
	"github.com/sprinklerd/sprinklerd/internal/config"
	"github.com/sprinklerd/sprinklerd/internal/controller"
	"github.com/sprinklerd/sprinklerd/internal/flow"
	"github.com/sprinklerd/sprinklerd/internal/hal"
	"github.com/sprinklerd/sprinklerd/internal/logger"
	"github.com/sprinklerd/sprinklerd/internal/logstore"
	"github.com/sprinklerd/sprinklerd/internal/notify"
	"github.com/sprinklerd/sprinklerd/internal/program"
	"github.com/sprinklerd/sprinklerd/internal/status"
	"github.com/sprinklerd/sprinklerd/internal/web"
)

// valvePinBase is the first BCM output pin used for station valves;
// station sid drives pin valvePinBase+sid, mirroring the teacher's
// fixed gpio.PinCH/PinHW assignment generalized to N stations.
const valvePinBase = 17

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log := logger.Get(cfg.LogLevel)
	if err := run(cfg, log.Logger); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	stations := make([]program.Station, cfg.NStations)
	for i := range stations {
		stations[i] = program.Station{SID: uint8(i)}
	}
	masters := []program.MasterZone{}

	var valve hal.ValveLatch
	if realValve, err := hal.NewRealValveLatch(valvePins(cfg.NStations)); err != nil {
		log.Warn("real valve latch unavailable, running with a fake", zap.Error(err))
		valve = hal.NewFakeValveLatch()
	} else {
		valve = realValve
	}
	defer valve.Close()

	var notifier notify.Publisher
	if realPub, err := notify.NewRealPublisher(cfg.MQTTBroker); err != nil {
		log.Warn("mqtt broker unavailable, running with a fake publisher", zap.Error(err))
		notifier = notify.NewFakePublisher()
	} else {
		notifier = realPub
	}
	defer notifier.Close()

	logsDir := filepath.Join(cfg.DataDir, "logs")
	logs := logstore.NewWriter(logsDir, cfg.LoggingEnabled, log)

	store, err := loadProgramStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load program store: %w", err)
	}

	clk := clock.NewRealClock(nil)
	sampler := flow.NewSampler()

	ctrl := controller.New(controller.Deps{
		Clock:     clk,
		Valve:     valve,
		Sampler:   sampler,
		Store:     store,
		Resolver:  identityResolver{},
		Notifier:  notifier,
		Logs:      logs,
		Stations:  stations,
		Masters:   masters,
		NStations: cfg.NStations,
	}, controller.Options{
		LoggingEnabled:      cfg.LoggingEnabled,
		WaterPercent:        cfg.WaterPercent,
		StationDelaySeconds: cfg.StationDelaySeconds,
		NTPEnabled:          false,
	})

	tracker := status.NewTracker(time.Now(), status.Config{
		MQTTBroker:     cfg.MQTTBroker,
		HTTPAddr:       cfg.HTTPAddr,
		StationDelayS:  cfg.StationDelaySeconds,
		LoggingEnabled: cfg.LoggingEnabled,
		NStations:      cfg.NStations,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var webSrv *web.Server
	if cfg.HTTPAddr != "" {
		webSrv = web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := webSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer webSrv.Shutdown(context.Background())
		log.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	log.Info("sprinklerd started",
		zap.String("data_dir", cfg.DataDir),
		zap.Int("stations", cfg.NStations),
		zap.String("mqtt_broker", cfg.MQTTBroker))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, tracker, webSrv, clk, ticker.C, sigCh, log)
}

func runLoop(ctrl *controller.Controller, tracker *status.Tracker, webSrv *web.Server, clk clock.Clock, tick <-chan time.Time, sig <-chan os.Signal, log *zap.Logger) error {
	for {
		select {
		case s := <-sig:
			log.Info("received signal, shutting down", zap.String("signal", s.String()))
			return nil

		case <-tick:
			now := clk.NowTZ()
			nowMS := clk.NowMS()
			if err := ctrl.Tick(now, nowMS, false, false); err != nil {
				log.Error("tick error", zap.Error(err))
				continue
			}

			running := ctrl.Machine().Running()
			views := make([]status.StationView, len(running))
			for i, on := range running {
				views[i] = status.StationView{SID: uint8(i), Running: on}
			}
			busy := ctrl.Machine().ProgramBusy()
			paused, pauseTimer := ctrl.Machine().Paused()
			sensor1, sensor2 := ctrl.SensorsActive()
			tracker.Update(views, busy, paused, pauseTimer, ctrl.RainDelayed(), sensor1, sensor2, ctrl.WaterPercent(), ctrl.InstantFlowRate())

			if webSrv != nil {
				webSrv.Broadcast()
			}
		}
	}
}

// valvePins returns the sequential BCM output pins driving stations
// 0..n-1.
func valvePins(n int) []int {
	pins := make([]int, n)
	for i := range pins {
		pins[i] = valvePinBase + i
	}
	return pins
}

// identityResolver passes raw durations through unchanged: sunrise/
// sunset-relative scheduling lives in the persistent program store,
// an external collaborator outside this core's scope (spec.md §1).
type identityResolver struct{}

func (identityResolver) Resolve(raw int32) int32 { return raw }

// fileStore is a minimal, read-mostly program.Store backed by a flat
// JSON seed file. The real persistent, editable program store is an
// external collaborator (spec.md §1 Out-of-scope); this just gives the
// core something to run against without one.
type fileStore struct {
	programs []program.Program
}

type seedProgram struct {
	Name       string  `json:"name"`
	Durations  []int32 `json:"durations"`
	UseWeather bool    `json:"use_weather"`
}

// staticProgram never matches on its own; it exists so ManualStart has
// real Program values to operate on without requiring a live scheduling
// engine. Because it never matches, a ':'-prefixed seeded name is never
// dispatched as a special command.
type staticProgram struct {
	name       string
	durations  []int32
	useWeather bool
}

func (p *staticProgram) Name() string                                 { return p.name }
func (p *staticProgram) CheckMatch(int32) (int, bool)                  { return 0, false }
func (p *staticProgram) Durations() []int32                           { return p.durations }
func (p *staticProgram) UseWeather() bool                             { return p.useWeather }
func (p *staticProgram) GenStationRunOrder(runCount int) []uint8 {
	order := make([]uint8, len(p.durations))
	for i := range order {
		order[i] = uint8(i)
	}
	return order
}

func loadProgramStore(dataDir string) (*fileStore, error) {
	path := filepath.Join(dataDir, "programs.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileStore{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var seeds []seedProgram
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	fs := &fileStore{}
	for _, s := range seeds {
		fs.programs = append(fs.programs, &staticProgram{name: s.Name, durations: s.Durations, useWeather: s.UseWeather})
	}
	return fs, nil
}

func (s *fileStore) Programs() []program.Program { return s.programs }

func (s *fileStore) Delete(p program.Program) {
	for i, existing := range s.programs {
		if existing == p {
			s.programs = append(s.programs[:i], s.programs[i+1:]...)
			return
		}
	}
}

// pi-helper env var names, forwarded the same way the teacher reads
// them from /run/pi-helper.env.
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

package controller

import (
	"time"

	"github.com/sprinklerd/sprinklerd/internal/logstore"
	"github.com/sprinklerd/sprinklerd/internal/program"
	"github.com/sprinklerd/sprinklerd/internal/scheduler"
	"github.com/sprinklerd/sprinklerd/internal/station"
)

// Tick advances the controller by one second at wallClock (seconds,
// TZ-adjusted) and nowMS (monotonic milliseconds, for the flow sampler).
// It performs, in order: flow polling, sensor debouncing and dynamic
// edges, program-switch manual starts, per-minute program matching,
// scheduling of newly matched entries, station actuation, master/pause
// handling, reboot gating, and periodic NTP/network/weather checks.
func (c *Controller) Tick(wallClock int32, nowMS uint32, pinSensor1, pinSensor2 bool) error {
	c.lastTick = wallClock
	if c.opts.Sensor1Kind == station.SensorFlow {
		c.sampler.Poll(nowMS, pinSensor1)
	}

	c.updateSensors(wallClock, pinSensor1, pinSensor2)
	c.handleRainDelayEdge(wallClock)
	c.handleProgramSwitch(wallClock)

	if c.minuteBoundary(wallClock) {
		c.runMatcher(wallClock)
	}

	paused, pauseTimer := c.machine.Paused()
	c.sched.Schedule(wallClock, c.queue, c.seqStartTimes(wallClock), paused, pauseTimer, c.opts.RemoteExtMode)

	c.machine.SetEnabled(true)
	c.machine.SetRemoteExtMode(c.opts.RemoteExtMode)
	c.machine.SetRainDelayed(c.rainDelayed)
	c.machine.SetSensor(1, c.opts.Sensor1Kind, c.sensor1Active)
	c.machine.SetSensor(2, c.opts.Sensor2Kind, c.sensor2Active)

	if err := c.machine.Tick(wallClock); err != nil {
		return err
	}

	if lr := c.machine.LastRun; lr.EndTime == wallClock && c.logs != nil {
		c.logs.AppendStation(lr.PID, lr.SID, lr.Duration, lr.EndTime, lr.GPM)
	}

	c.handleRebootGating(wallClock)
	c.handlePeriodicChecks(wallClock)

	c.notify.Run()
	return nil
}

func (c *Controller) minuteBoundary(wallClock int32) bool {
	minute := wallClock / 60
	if minute == c.lastMinute {
		return false
	}
	c.lastMinute = minute
	return true
}

func (c *Controller) seqStartTimes(wallClock int32) []int32 {
	paused, timer := c.machine.Paused()
	return scheduler.NewSeqStartTimes(wallClock, paused, timer, c.stationDelay, c.machine.LastSeqStop())
}

// runMatcher runs the once-per-minute program match pass and dispatches
// PROGRAM_SCHED notifications plus special commands (spec.md §4.3).
func (c *Controller) runMatcher(wallClock int32) {
	results := c.matcher.Tick(wallClock, c.store, c.queue)
	for _, r := range results {
		switch r.Command {
		case program.CmdReboot:
			c.opts.SafeRebootPending = true
			c.rebootTimer = wallClock + 65
			continue
		case program.CmdRebootNow:
			c.rebootTimer = wallClock + 65
			continue
		}
		if len(r.Entries) > 0 {
			pct := 100
			if r.Program.UseWeather() {
				pct = c.opts.WaterPercent
			}
			c.notify.ProgramScheduled(r.PID, pct, len(r.Entries))
		}
	}
}

func (c *Controller) updateSensors(wallClock int32, pin1, pin2 bool) {
	now := time.Unix(int64(wallClock), 0)
	if c.opts.Sensor1Kind == station.SensorRain || c.opts.Sensor1Kind == station.SensorSoil {
		stable, transitioned := c.sensors.Sample("sensor1", pin1, now)
		c.sensor1Active = stable
		if transitioned {
			c.onSensorEdge(1, wallClock, stable)
		}
	}
	if c.opts.Sensor2Kind == station.SensorRain || c.opts.Sensor2Kind == station.SensorSoil {
		stable, transitioned := c.sensors.Sample("sensor2", pin2, now)
		c.sensor2Active = stable
		if transitioned {
			c.onSensorEdge(2, wallClock, stable)
		}
	}
}

func (c *Controller) onSensorEdge(channel int, wallClock int32, active bool) {
	var lastTime *int32
	var kind logstore.EventKind
	if channel == 1 {
		lastTime = &c.sensor1LastTime
		kind = logstore.EventSensor1
	} else {
		lastTime = &c.sensor2LastTime
		kind = logstore.EventSensor2
	}

	if active {
		*lastTime = wallClock
		c.notify.SensorChanged(channel, true, 0)
		return
	}

	dur := int32(0)
	if wallClock > *lastTime {
		dur = wallClock - *lastTime
	}
	if c.logs != nil {
		c.logs.AppendEvent(kind, dur, 0, wallClock)
	}
	c.notify.SensorChanged(channel, false, dur)
}

func (c *Controller) handleRainDelayEdge(wallClock int32) {
	shouldBeDelayed := wallClock < c.opts.RainDelayStopTime
	if shouldBeDelayed == c.rainDelayed {
		return
	}
	c.rainDelayed = shouldBeDelayed
	if shouldBeDelayed {
		c.notify.RainDelayChanged(true, c.opts.RainDelayStopTime-wallClock)
		return
	}
	if c.logs != nil {
		c.logs.AppendEvent(logstore.EventRainDelay, 0, 0, wallClock)
	}
	c.notify.RainDelayChanged(false, 0)
}

func (c *Controller) handleProgramSwitch(wallClock int32) {
	if c.pswitch == nil {
		return
	}
	status := c.pswitch.Status(wallClock)
	if status == 0 {
		return
	}
	c.ResetAllStationsImmediate()
	if status&0x01 != 0 {
		_ = c.ManualStart(1, false)
	}
	if status&0x02 != 0 {
		_ = c.ManualStart(2, false)
	}
}

func (c *Controller) handleRebootGating(wallClock int32) {
	if c.opts.SafeRebootPending {
		if wallClock <= c.rebootTimer {
			return
		}
		if c.machine.ProgramBusy() {
			return
		}
		if c.willAnyProgramRunWithin(wallClock, 60) {
			return
		}
		c.reboot("safe")
		return
	}
	if c.rebootTimer != 0 && wallClock > c.rebootTimer {
		c.reboot("timer")
	}
}

func (c *Controller) willAnyProgramRunWithin(wallClock int32, horizon int32) bool {
	for _, p := range c.store.Programs() {
		if n, _ := p.CheckMatch(wallClock + horizon); n > 0 {
			return true
		}
	}
	return false
}

func (c *Controller) reboot(cause string) {
	c.rebootCause = cause
	c.opts.SafeRebootPending = false
	c.rebootTimer = 0
	c.notify.Rebooted()
}

func (c *Controller) handlePeriodicChecks(wallClock int32) {
	if c.opts.NTPEnabled && wallClock%ntpSyncIntervalSeconds == 0 && c.ntp != nil {
		if offset, ok := c.ntp.Sync(); ok {
			if !c.hasLastNTP || abs32(offset-c.lastNTPResult) > ntpAnomalyRejectWindow {
				c.lastNTPResult = offset
				c.hasLastNTP = true
			}
		}
	}

	if c.network == nil || !c.network.Connected() {
		return
	}

	if c.weather == nil || c.opts.RemoteExtMode || c.machine.ProgramBusy() {
		return
	}
	if percent, ok := c.weather.Check(wallClock); ok {
		c.opts.WaterPercent = percent
		c.matcher.SetWaterPercent(percent)
		c.lastWeatherOK = wallClock
		c.opts.WeatherMethod = WeatherMethodService
		c.notify.WeatherUpdated(percent)
	} else if c.weatherTimedOut(wallClock) {
		c.opts.WaterPercent = 100
		c.matcher.SetWaterPercent(100)
	}
}

const weatherSuccessTimeoutSeconds = 24 * 3600

func (c *Controller) weatherTimedOut(wallClock int32) bool {
	switch c.opts.WeatherMethod {
	case WeatherMethodManual, WeatherMethodAutoRainDelay, WeatherMethodMonthly:
		return false
	}
	return wallClock-c.lastWeatherOK > weatherSuccessTimeoutSeconds
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

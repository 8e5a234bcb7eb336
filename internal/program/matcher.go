package program

import "github.com/sprinklerd/sprinklerd/internal/runtime"

// WaterScale returns a duration scaled by a water percentage in [0,250]
// (100 = unscaled), rounding the same way the firmware's integer
// multiply-then-divide does (spec.md §4.3).
func WaterScale(raw int32, percent int) int32 {
	if percent == 100 || raw <= 0 {
		return raw
	}
	return raw * int32(percent) / 100
}

// Matcher runs the once-per-minute program match pass (spec.md §4.3 C5),
// grounded on the per-minute loop in original_source/main.cpp:811-900.
type Matcher struct {
	stations     []Station
	masters      []MasterZone
	resolver     Resolver
	waterPercent int
}

// NewMatcher creates a Matcher over a fixed station table.
func NewMatcher(stations []Station, masters []MasterZone, resolver Resolver) *Matcher {
	return &Matcher{stations: stations, masters: masters, resolver: resolver, waterPercent: 100}
}

// isMaster reports whether sid is bound as either master zone's own
// output station, which can never carry a queue entry of its own
// (main.cpp:836-839).
func (m *Matcher) isMaster(sid uint8) bool {
	for _, mz := range m.masters {
		if mz.SID != 0 && mz.SID == sid+1 {
			return true
		}
	}
	return false
}

// SetWaterPercent applies the monthly/manual water-percentage adjustment
// to every subsequent Tick (spec.md §4 supplemented feature; firmware's
// options.sw[OPTION_WATER_PERCENTAGE]).
func (m *Matcher) SetWaterPercent(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 250 {
		percent = 250
	}
	m.waterPercent = percent
}

// Tick evaluates every program in store against wallClock and enqueues a
// runtime.Entry per matched, enabled station into q. Entries are enqueued
// unscheduled (St=0, DequeTime=0); the scheduler assigns start times in a
// later pass (spec.md §4.4). Run-once programs that match are deleted
// from store after this pass, except those with a ':'-prefixed name,
// which are never enqueued. Returns, in program order, one MatchResult
// per matched program that either enqueued at least one entry or names a
// recognised special command, for the caller to drive PROGRAM_SCHED
// notifications and special-command dispatch.
func (m *Matcher) Tick(wallClock int32, store Store, q *runtime.Queue) []MatchResult {
	var results []MatchResult
	toDelete := make([]Program, 0)

	programs := store.Programs()
	for i, p := range programs {
		pid := uint8(i + 1)

		runCount, willDelete := p.CheckMatch(wallClock)
		if runCount == 0 {
			continue
		}

		if name := p.Name(); len(name) > 0 && name[0] == ':' {
			if cmd := ParseSpecialCommand(name); cmd != NoCommand {
				results = append(results, MatchResult{Program: p, PID: pid, Command: cmd})
			}
			continue
		}

		order := p.GenStationRunOrder(runCount)
		durations := p.Durations()
		useWeather := p.UseWeather()

		var entries []runtime.Entry
		for _, sid := range order {
			if int(sid) >= len(m.stations) || int(sid) >= len(durations) {
				continue
			}
			if m.isMaster(sid) {
				continue
			}
			st := m.stations[sid]
			if st.Disabled {
				continue
			}
			dur := m.resolver.Resolve(durations[sid])
			if useWeather {
				dur = WaterScale(dur, m.waterPercent)
			}
			if dur <= 0 {
				continue
			}
			e := runtime.Entry{SID: sid, PID: pid, Dur: dur}
			if q.Enqueue(e) {
				entries = append(entries, e)
			}
		}

		if len(entries) > 0 {
			results = append(results, MatchResult{Program: p, PID: pid, Entries: entries})
		}
		if willDelete {
			toDelete = append(toDelete, p)
		}
	}

	for _, p := range toDelete {
		store.Delete(p)
	}
	return results
}

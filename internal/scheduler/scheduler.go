// Package scheduler assigns start and dequeue times to unscheduled
// entries in the runtime queue (spec.md §4.4 C6), grounded on
// schedule_all_stations/handle_master_adjustments in
// original_source/main.cpp:1345-1431.
package scheduler

import (
	"github.com/sprinklerd/sprinklerd/internal/program"
	"github.com/sprinklerd/sprinklerd/internal/runtime"
)

// abs16 mirrors the firmware's abs() over a 16-bit signed adjustment.
func abs16(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Scheduler turns freshly-enqueued, unscheduled runtime.Entry values into
// timed ones. It is stateless across calls except for the
// caller-owned lastSeqStopTimes slice, which persists the sequential
// group anchors the station state machine maintains (spec.md §4.6).
type Scheduler struct {
	stations     []program.Station
	masters      []program.MasterZone
	stationDelay int32 // seconds, signed
}

// NewScheduler creates a Scheduler over the static station and master
// tables.
func NewScheduler(stations []program.Station, masters []program.MasterZone, stationDelay int32) *Scheduler {
	return &Scheduler{stations: stations, masters: masters, stationDelay: stationDelay}
}

// Schedule walks every entry in q with St == 0 and Dur != 0, and assigns
// its St and DequeTime. Sequential-group stations are chained through
// seqStartTimes (one slot per group, indexed by program.NSeqGroups);
// concurrent stations start one second apart from currTime+1. If paused,
// the concurrent anchor is pushed back by pauseTimer seconds.
//
// seqStartTimes must be pre-seeded by the caller: for each group whose
// lastSeqStopTimes > currTime, seqStartTimes[gid] should already be
// lastSeqStopTimes[gid] + stationDelay; all other slots should be
// currTime + 1 (or the paused anchor). NewSeqStartTimes computes this.
// paused/pauseTimer must match whatever NewSeqStartTimes was called with,
// so the concurrent anchor agrees with the sequential one. remoteExt
// forces every station concurrent, matching the firmware's remote
// extension mode, which never chains sequential groups (spec.md §4.4).
func (s *Scheduler) Schedule(currTime int32, q *runtime.Queue, seqStartTimes []int32, paused bool, pauseTimer int32, remoteExt bool) {
	conStartTime := currTime + 1
	if paused {
		conStartTime += pauseTimer
	}

	entries := q.Entries()
	for i := range entries {
		e := &entries[i]
		if e.St != 0 || e.Dur == 0 {
			continue
		}

		gid := s.groupID(e.SID)
		sequential := s.isSequential(e.SID, remoteExt)

		if sequential {
			e.St = seqStartTimes[gid]
			seqStartTimes[gid] += e.Dur
			seqStartTimes[gid] += s.stationDelay
		} else {
			e.St = conStartTime
			conStartTime++
		}

		s.handleMasterAdjustments(currTime, e, gid, seqStartTimes)
	}
}

// NewSeqStartTimes seeds the per-group sequential anchor slice per
// schedule_all_stations's preamble (main.cpp:1384-1391).
func NewSeqStartTimes(currTime int32, paused bool, pauseTimer int32, stationDelay int32, lastSeqStopTimes []int32) []int32 {
	conStart := currTime + 1
	if paused {
		conStart += pauseTimer
	}
	out := make([]int32, program.NSeqGroups)
	for i := range out {
		out[i] = conStart
		if lastSeqStopTimes[i] > currTime {
			out[i] = lastSeqStopTimes[i] + stationDelay
		}
	}
	return out
}

func (s *Scheduler) groupID(sid uint8) uint8 {
	if int(sid) < len(s.stations) {
		return s.stations[sid].GID
	}
	return 0
}

func (s *Scheduler) isSequential(sid uint8, remoteExt bool) bool {
	return !remoteExt && int(sid) < len(s.stations) && s.stations[sid].Sequential
}

// handleMasterAdjustments pushes back a station's start time (and its
// sequential group's running anchor) to allow time for a negatively
// adjusted master zone to energise first, then derives the dequeue time
// (main.cpp:1348-1372).
func (s *Scheduler) handleMasterAdjustments(currTime int32, e *runtime.Entry, gid uint8, seqStartTimes []int32) {
	var startAdj, dequeueAdj int32

	if int(e.SID) < len(s.stations) {
		mask := s.stations[e.SID].MasterMask
		for i, mz := range s.masters {
			if mz.SID == 0 || !mz.Bound(mask, i) {
				continue
			}
			if mz.OnAdj < startAdj {
				startAdj = mz.OnAdj
			}
			if mz.OffAdj > dequeueAdj {
				dequeueAdj = mz.OffAdj
			}
		}
	}

	if e.St-currTime < abs16(startAdj) {
		push := abs16(startAdj)
		e.St += push
		seqStartTimes[gid] += push
	}

	e.DequeTime = e.St + e.Dur + dequeueAdj
}

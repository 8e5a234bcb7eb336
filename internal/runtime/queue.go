// Package runtime implements the fixed-capacity runtime queue of pending
// and running station runs (spec.md §3, §4.5 C4), plus the per-station
// back-index that lets the station state machine resolve a station to
// its queue entry in O(1).
package runtime

// NotQueued is the back-index sentinel meaning a station has no queue
// entry (0xFF in spec.md §3).
const NotQueued = 0xFF

// Manual-start pseudo-program ids (spec.md §3, §4.9).
const (
	PIDManual     = 254
	PIDManualTest = 255
)

// Entry is one pending or running station run.
type Entry struct {
	SID        uint8 // station id
	PID        uint8 // 1-based program id; 254 = manual, 255 = test
	Dur        int32 // seconds; 0 = tombstone
	St         int32 // absolute start time; 0 = unscheduled
	DequeTime  int32 // absolute dequeue time, >= St+Dur
}

// Queue is the fixed-capacity runtime queue plus the per-station
// back-index. The zero value is not usable; use NewQueue.
type Queue struct {
	entries     []Entry
	capacity    int
	stationQID  []uint8 // index by sid -> index into entries, or NotQueued
}

// NewQueue creates a Queue with room for capacity entries and back-index
// slots for nStations stations.
func NewQueue(capacity, nStations int) *Queue {
	q := &Queue{
		capacity:   capacity,
		stationQID: make([]uint8, nStations),
	}
	for i := range q.stationQID {
		q.stationQID[i] = NotQueued
	}
	return q
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int { return len(q.entries) }

// Capacity returns the maximum number of entries the queue can hold.
func (q *Queue) Capacity() int { return q.capacity }

// At returns a pointer to the entry at index qid. Callers must not retain
// the pointer across a Dequeue, which compacts the slice.
func (q *Queue) At(qid int) *Entry { return &q.entries[qid] }

// Entries exposes the queue contents for read-only iteration.
func (q *Queue) Entries() []Entry { return q.entries }

// StationQID returns the back-index for sid, or NotQueued.
func (q *Queue) StationQID(sid uint8) uint8 { return q.stationQID[sid] }

// SetStationQID sets the back-index for sid directly. Used by the station
// state machine's collision-resolution pass (spec.md §4.5 step 1).
func (q *Queue) SetStationQID(sid uint8, qid uint8) { q.stationQID[sid] = qid }

// Enqueue appends e to the queue. It reports false (and drops e) if the
// queue is already at capacity, per spec.md §4.3's silent-drop behavior.
func (q *Queue) Enqueue(e Entry) bool {
	if len(q.entries) >= q.capacity {
		return false
	}
	q.entries = append(q.entries, e)
	return true
}

// Dequeue removes the entry at index qid, compacting the slice and
// updating every remaining back-index that pointed past qid.
func (q *Queue) Dequeue(qid int) {
	if qid < 0 || qid >= len(q.entries) {
		return
	}
	removedSID := q.entries[qid].SID
	q.entries = append(q.entries[:qid], q.entries[qid+1:]...)

	if int(q.stationQID[removedSID]) == qid {
		q.stationQID[removedSID] = NotQueued
	}
	for sid, idx := range q.stationQID {
		if idx != NotQueued && int(idx) > qid {
			q.stationQID[sid] = idx - 1
		}
	}
}

// GC removes every entry that is a tombstone (Dur == 0) or whose dequeue
// time has arrived (spec.md §4.5 step 3). It walks from the end so
// compaction in Dequeue doesn't disturb earlier indices still pending
// inspection.
func (q *Queue) GC(now int32) {
	for qid := len(q.entries) - 1; qid >= 0; qid-- {
		e := q.entries[qid]
		if e.Dur == 0 || now >= e.DequeTime {
			q.Dequeue(qid)
		}
	}
}

// ResolveCollisions assigns each queue entry to its station's back-index,
// preferring whichever entry for that station has the earliest start time
// (spec.md §4.5 step 1).
func (q *Queue) ResolveCollisions() {
	for qid := range q.entries {
		sid := q.entries[qid].SID
		sqi := q.stationQID[sid]
		if sqi != NotQueued && q.entries[sqi].St < q.entries[qid].St {
			continue
		}
		q.stationQID[sid] = uint8(qid)
	}
}

// Reset empties the queue and clears every back-index, for
// reset_runtime()-style full resets (spec.md §4.9).
func (q *Queue) Reset() {
	q.entries = q.entries[:0]
	for i := range q.stationQID {
		q.stationQID[i] = NotQueued
	}
}

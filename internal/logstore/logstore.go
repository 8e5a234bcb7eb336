// Package logstore writes the run-history log: one file per day, one
// line per station run or system event, in the square-bracket CSV-ish
// grammar the firmware's write_log() emits. Grounded on write_log and
// its disk-space reclaim logic in original_source/main.cpp:1503-1660+.
package logstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// dayOf extracts the leading day-epoch number from a "<day>.txt" log
// filename, returning -1 for anything that doesn't parse.
func dayOf(name string) int64 {
	n, err := strconv.ParseInt(strings.TrimSuffix(name, ".txt"), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// EventKind identifies a non-station log record's two-letter type tag.
type EventKind string

const (
	EventSensor1    EventKind = "s1"
	EventRainDelay  EventKind = "rd"
	EventWaterLevel EventKind = "wl"
	EventFlowSense  EventKind = "fl"
	EventSensor2    EventKind = "s2"
	EventCurrent    EventKind = "cu"
)

const secondsPerDay = 86400

// reclaimThresholdBlocks mirrors the firmware's 4-block headroom check
// before it starts deleting old logs (main.cpp ESP8266 branch).
const reclaimThresholdBlocks = 4

// oldestFilesToReclaim mirrors the firmware's "delete the oldest 7
// files (1 week of log)" policy.
const oldestFilesToReclaim = 7

// Writer appends run-history records under dir, one file per UTC day.
// Not safe for concurrent use.
type Writer struct {
	dir     string
	enabled bool
	log     *zap.Logger
}

// NewWriter creates a Writer rooted at dir. The directory is created
// lazily on first write, matching write_log's lazy mkdir.
func NewWriter(dir string, enabled bool, log *zap.Logger) *Writer {
	return &Writer{dir: dir, enabled: enabled, log: log}
}

// SetEnabled toggles logging at runtime (IOPT_ENABLE_LOGGING).
func (w *Writer) SetEnabled(enabled bool) { w.enabled = enabled }

func (w *Writer) filePath(now int32) string {
	day := now / secondsPerDay
	return filepath.Join(w.dir, fmt.Sprintf("%d.txt", day))
}

// AppendStation appends a completed station run record:
// [program,station,duration,now] or, when gpm is non-nil (sensor1 is a
// flow meter), [program,station,duration,now,gpm] with gpm to 2 decimals.
func (w *Writer) AppendStation(pid uint8, sid uint8, duration int32, now int32, gpm *float64) error {
	if !w.enabled {
		return nil
	}
	var line strings.Builder
	fmt.Fprintf(&line, "[%d,%d,%d,%d", pid, sid, duration, now)
	if gpm != nil {
		fmt.Fprintf(&line, ",%5.2f", *gpm)
	}
	line.WriteString("]\r\n")
	return w.append(now, line.String())
}

// AppendEvent appends a system event record: [value,"kind",subvalue,now].
func (w *Writer) AppendEvent(kind EventKind, value int32, subvalue int32, now int32) error {
	if !w.enabled {
		return nil
	}
	line := fmt.Sprintf("[%d,\"%s\",%d,%d]\r\n", value, kind, subvalue, now)
	return w.append(now, line)
}

func (w *Writer) append(now int32, line string) error {
	path := w.filePath(now)
	if _, err := os.Stat(w.dir); os.IsNotExist(err) {
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return fmt.Errorf("logstore: create log dir: %w", err)
		}
	}
	if err := w.reclaimIfLow(); err != nil && w.log != nil {
		w.log.Warn("logstore: space reclaim check failed", zap.Error(err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Single retry after an emergency reclaim, then give up silently
		// per spec.md §7's storage-full policy.
		if rerr := w.reclaimOldest(oldestFilesToReclaim); rerr != nil {
			return fmt.Errorf("logstore: open %s: %w", path, err)
		}
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			if w.log != nil {
				w.log.Error("logstore: dropping log record after failed retry", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(line); err != nil {
		return fmt.Errorf("logstore: write %s: %w", path, err)
	}
	return bw.Flush()
}

// reclaimIfLow deletes the oldest log files when free space on the log
// filesystem is below reclaimThresholdBlocks blocks, mirroring the
// ESP8266 branch's FSInfo check via statfs.
func (w *Writer) reclaimIfLow() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(w.dir), &stat); err != nil {
		return fmt.Errorf("statfs: %w", err)
	}
	if stat.Bfree < reclaimThresholdBlocks {
		return w.reclaimOldest(oldestFilesToReclaim)
	}
	return nil
}

// reclaimOldest deletes up to n of the oldest *.txt log files by their
// day-epoch filename, matching delete_log_oldest() called in a loop.
func (w *Writer) reclaimOldest(n int) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("logstore: list log dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return dayOf(names[i]) < dayOf(names[j])
	})

	for i := 0; i < n && i < len(names); i++ {
		if err := os.Remove(filepath.Join(w.dir, names[i])); err != nil && w.log != nil {
			w.log.Warn("logstore: failed to reclaim old log file", zap.String("file", names[i]), zap.Error(err))
		}
	}
	return nil
}

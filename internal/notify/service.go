package notify

import (
	"time"

	"go.uber.org/zap"
)

// bufferCapacity mirrors the teacher's offline-buffer sizing: enough
// events to ride out a short broker outage without growing unbounded.
const bufferCapacity = 256

// Service buffers events while the publisher is disconnected and drains
// the buffer once it reconnects. It implements the Notifier interface
// internal/station expects (structurally — no import back to that
// package), plus the extra event kinds the
// controller emits directly.
type Service struct {
	pub    Publisher
	status ConnectionStatus
	clock  func() time.Time
	log    *zap.Logger
	buf    *ringBuffer
}

// NewService wraps pub (optionally also a ConnectionStatus) in a
// Service. If pub does not implement ConnectionStatus, the service
// assumes it is always connected and publishes immediately.
func NewService(pub Publisher, log *zap.Logger) *Service {
	s := &Service{pub: pub, clock: time.Now, log: log, buf: newRingBuffer(bufferCapacity)}
	if cs, ok := pub.(ConnectionStatus); ok {
		s.status = cs
	}
	return s
}

func (s *Service) emit(e Event) {
	e.Timestamp = s.clock()
	if s.status != nil && !s.status.IsConnected() {
		s.buf.push(e)
		return
	}
	if err := s.pub.Publish(e); err != nil {
		if s.log != nil {
			s.log.Warn("notify: publish failed, buffering", zap.String("event", string(e.Type)), zap.Error(err))
		}
		s.buf.push(e)
	}
}

// Run drains any buffered events once the connection is confirmed live.
// Call periodically from the controller's tick loop.
func (s *Service) Run() {
	if s.status != nil && !s.status.IsConnected() {
		return
	}
	pending := s.buf.drainAll()
	for i, e := range pending {
		if err := s.pub.Publish(e); err != nil {
			if s.log != nil {
				s.log.Warn("notify: replay failed", zap.String("event", string(e.Type)), zap.Error(err))
			}
			for _, rest := range pending[i:] {
				s.buf.push(rest)
			}
			return
		}
	}
}

// Close releases the underlying publisher.
func (s *Service) Close() error { return s.pub.Close() }

// station.Notifier implementation.

func (s *Service) StationOn(sid uint8, duration int32) {
	s.emit(Event{Type: StationOn, Station: sid, Value: duration})
}

func (s *Service) StationOff(sid uint8, pid uint8, duration int32) {
	s.emit(Event{Type: StationOff, Station: sid, Value: duration, SubValue: int32(pid)})
}

func (s *Service) FlowAlert(sid uint8, duration int32) {
	s.emit(Event{Type: FlowAlert, Station: sid, Value: duration})
}

func (s *Service) MasterOn(sid uint8) {
	s.emit(Event{Type: StationOn, Station: sid, Value: 0})
}

func (s *Service) MasterOff(sid uint8, duration int32) {
	s.emit(Event{Type: StationOff, Station: sid, Value: duration})
}

func (s *Service) FlowSensorReading(pulses uint32) {
	s.emit(Event{Type: FlowSensor, Station: NoStation, Value: int32(pulses)})
}

// Controller-level events, not part of the per-tick station Notifier.

func (s *Service) ProgramScheduled(pid uint8, waterPercent int, runCount int) {
	s.emit(Event{Type: ProgramSched, Station: NoStation, Value: int32(pid), SubValue: int32(waterPercent)})
}

func (s *Service) RainDelayChanged(active bool, durationSeconds int32) {
	v := int32(0)
	if active {
		v = durationSeconds
	}
	s.emit(Event{Type: RainDelay, Station: NoStation, Value: v})
}

func (s *Service) SensorChanged(channel int, active bool, durationSeconds int32) {
	t := Sensor1
	if channel == 2 {
		t = Sensor2
	}
	s.emit(Event{Type: t, Station: NoStation, Value: durationSeconds, SubValue: boolToInt(active)})
}

func (s *Service) WeatherUpdated(waterPercent int) {
	s.emit(Event{Type: WeatherUpdate, Station: NoStation, Value: int32(waterPercent)})
}

func (s *Service) Rebooted() {
	s.emit(Event{Type: Reboot, Station: NoStation})
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

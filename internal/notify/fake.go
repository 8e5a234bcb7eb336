package notify

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	Events       []Event
	Payloads     [][]byte
	PublishError error
	Closed       bool
	Connected    bool
}

// NewFakePublisher creates an empty FakePublisher.
func NewFakePublisher() *FakePublisher { return &FakePublisher{} }

// Publish records event.
func (f *FakePublisher) Publish(event Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, event)
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// IsConnected reports the fake's configured connection state.
func (f *FakePublisher) IsConnected() bool { return f.Connected }

// Close marks the publisher closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

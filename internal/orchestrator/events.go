package orchestrator

import (
	"sync"
	"time"
)

// EventType identifies a state transition published on the Bus.
type EventType string

const (
	EventNodeRegistered    EventType = "node.registered"
	EventNodeFailed        EventType = "node.failed"
	EventNodeRecovered     EventType = "node.recovered"
	EventServiceRegistered EventType = "service.registered"
	EventInstanceDeploying EventType = "instance.deploying"
	EventInstanceRunning   EventType = "instance.running"
	EventInstanceMigrated  EventType = "instance.migrated"
	EventInstanceRemoved   EventType = "instance.removed"
	EventWorkloadAssigned  EventType = "workload.assigned"
	EventWorkloadCompleted EventType = "workload.completed"
	EventWorkloadFailed    EventType = "workload.failed"
	EventWorkloadMigrated  EventType = "workload.migrated"
	EventScaleUp           EventType = "scale.up"
	EventScaleDown         EventType = "scale.down"
)

// Event describes one state transition inside the core. Only the ID
// fields relevant to the transition are set.
type Event struct {
	Type       EventType `json:"type"`
	Time       time.Time `json:"time"`
	NodeID     string    `json:"node_id,omitempty"`
	ServiceID  string    `json:"service_id,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	WorkloadID string    `json:"workload_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Bus fans events out to subscribers so dashboards and alerting can
// observe the core's transitions without coupling to its internals.
// Publish never blocks: a subscriber whose buffer is full misses the
// event. Subscribers that need a complete picture should follow up with
// a ClusterStatus read.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewBus creates a bus whose subscriber channels hold up to buffer
// events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers e to every subscriber that has buffer room.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop rather than block the core
		}
	}
}

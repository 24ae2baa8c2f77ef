package tiles

// EventType classifies a streaming event.
type EventType int

const (
	// EventTilesetLoaded fires once a root or external manifest has been
	// parsed and grafted into the hierarchy.
	EventTilesetLoaded EventType = iota
	// EventNodeReady fires when a node's content is decoded and attached.
	EventNodeReady
	// EventNodeFailed fires when a fetch or decode fails. Failures are
	// contained at the node; they never unwind through the frame loop.
	EventNodeFailed
	// EventNodeEvicted fires when resident content is reclaimed.
	EventNodeEvicted
	// EventManifestWarning fires for tolerated authoring problems, such
	// as a child whose geometric error exceeds its parent's.
	EventManifestWarning
)

func (t EventType) String() string {
	switch t {
	case EventTilesetLoaded:
		return "tileset_loaded"
	case EventNodeReady:
		return "node_ready"
	case EventNodeFailed:
		return "node_failed"
	case EventNodeEvicted:
		return "node_evicted"
	case EventManifestWarning:
		return "manifest_warning"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers as streaming state changes. The
// surrounding application surfaces aggregate failures from this stream
// (e.g. as a toast) instead of catching exceptions from the render loop.
type Event struct {
	Type    EventType
	URI     string
	Frame   uint64
	Message string
	Err     error
}

// Subscribe registers fn for all future events. Delivery is synchronous
// on the frame-driving goroutine; subscribers must return quickly.
func (s *Streamer) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Streamer) emit(ev Event) {
	s.mu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Package tiles streams a hierarchical level-of-detail tile dataset:
// manifest loading, per-frame refinement selection by screen-space error,
// budgeted asynchronous content fetch/decode, and LRU eviction.
//
// The streamer is driven by one Update call per rendered frame. The
// selection and eviction pass is synchronous and bounded by the number of
// resident nodes; fetch and decode run on background goroutines and hand
// their results back to the frame thread, which alone mutates the scene
// graph.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/semaphore"

	"github.com/skylinemaps/tilebridge/internal/logging"
	"github.com/skylinemaps/tilebridge/internal/observability"
	"github.com/skylinemaps/tilebridge/model"
	"github.com/skylinemaps/tilebridge/scene"
)

// Config assembles a Streamer. Zero-value fields get working defaults:
// noop logger, HTTP fetcher, GLB envelope decoder, percent-encoding URI
// resolver, the AlwaysVisible policy, and a budget of 6 concurrent
// requests / 512 MiB resident.
type Config struct {
	Logger     logging.Logger
	Fetcher    Fetcher
	Decoder    MeshDecoder
	Resolver   UriResolver
	Visibility VisibilityPolicy
	Metrics    *observability.StreamerCollector
	Budget     model.StreamingBudget
	Options    model.DatasetOptions
}

// Streamer owns the tile hierarchy root and decides, per frame, which
// nodes to request, keep and evict.
type Streamer struct {
	log      logging.Logger
	fetcher  Fetcher
	decoder  MeshDecoder
	resolver UriResolver
	policy   VisibilityPolicy
	metrics  *observability.StreamerCollector

	budget model.StreamingBudget
	opts   model.DatasetOptions

	mu            sync.Mutex
	generation    uint64
	root          *model.TileNode
	rootURL       *url.URL
	frame         uint64
	sceneRoot     *scene.Node
	content       map[*model.TileNode]*scene.Node
	cancels       map[*model.TileNode]context.CancelFunc
	selected      map[*model.TileNode]struct{}
	residentBytes int64
	inflight      int64
	sem           *semaphore.Weighted
	subs          []func(Event)

	statsFetchOK     uint64
	statsFetchFailed uint64
	statsEvictions   uint64

	completions chan completion
}

type completion struct {
	gen      uint64
	node     *model.TileNode
	uri      string
	content  *scene.Node
	bytes    int64
	subRoot  *model.TileNode
	warnings []string
	err      error
	started  time.Time
}

// New constructs a Streamer from cfg. Call SwitchDataset to load a
// tileset, then Update once per frame.
func New(cfg Config) *Streamer {
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = &HTTPFetcher{}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = GlbDecoder{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = PercentEncodingResolver{}
	}
	if cfg.Visibility == nil {
		cfg.Visibility = AlwaysVisible{}
	}
	if cfg.Budget.MaxConcurrentRequests <= 0 {
		cfg.Budget.MaxConcurrentRequests = 6
	}
	if cfg.Budget.MaxResidentBytes <= 0 {
		cfg.Budget.MaxResidentBytes = 512 << 20
	}

	return &Streamer{
		log:         cfg.Logger,
		fetcher:     cfg.Fetcher,
		decoder:     cfg.Decoder,
		resolver:    cfg.Resolver,
		policy:      cfg.Visibility,
		metrics:     cfg.Metrics,
		budget:      cfg.Budget,
		opts:        cfg.Options.WithDefaults(),
		sceneRoot:   scene.NewNode(),
		content:     make(map[*model.TileNode]*scene.Node),
		cancels:     make(map[*model.TileNode]context.CancelFunc),
		selected:    make(map[*model.TileNode]struct{}),
		sem:         semaphore.NewWeighted(cfg.Budget.MaxConcurrentRequests),
		completions: make(chan completion, 256),
	}
}

// SwitchDataset cancels all in-flight and queued requests of the current
// tileset and disposes all of its resident content — bounding peak memory
// — before fetching and parsing the new root manifest. Passing the first
// dataset in goes through the same path.
func (s *Streamer) SwitchDataset(ctx context.Context, manifestURL string) error {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return fmt.Errorf("switch dataset: %w", err)
	}

	s.mu.Lock()
	for node, cancel := range s.cancels {
		cancel()
		node.State = model.LoadStateUnloaded
	}
	s.cancels = make(map[*model.TileNode]context.CancelFunc)
	for node, sn := range s.content {
		s.sceneRoot.Detach(sn)
		node.State = model.LoadStateUnloaded
		node.ContentBytes = 0
	}
	s.content = make(map[*model.TileNode]*scene.Node)
	s.selected = make(map[*model.TileNode]struct{})
	s.residentBytes = 0
	s.inflight = 0
	s.generation++
	gen := s.generation
	s.sem = semaphore.NewWeighted(s.budget.MaxConcurrentRequests)
	s.sceneRoot = scene.NewNode()
	s.root = nil
	s.rootURL = u
	s.mu.Unlock()
	s.updateGauges()

	data, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		return fmt.Errorf("switch dataset: %w", err)
	}
	root, warnings, err := ParseTileset(bytes.NewReader(data), u, s.resolver)
	if err != nil {
		return fmt.Errorf("switch dataset: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// Switched again while this manifest was in flight.
		s.mu.Unlock()
		return nil
	}
	s.root = root
	s.mu.Unlock()

	for _, w := range warnings {
		s.emit(Event{Type: EventManifestWarning, URI: manifestURL, Message: w})
	}
	s.emit(Event{Type: EventTilesetLoaded, URI: manifestURL})
	s.log.Info(ctx, "tileset loaded",
		logging.String("url", manifestURL),
		logging.Int("warnings", len(warnings)))
	return nil
}

// Close cancels all outstanding requests. The streamer must not be
// updated afterwards.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for node, cancel := range s.cancels {
		cancel()
		node.State = model.LoadStateUnloaded
	}
	s.cancels = make(map[*model.TileNode]context.CancelFunc)
	s.generation++
}

// Update runs one frame: completions are attached, the hierarchy is
// walked for selection, deselected in-flight fetches are cancelled, and
// stale content is evicted. It never blocks on network or decode work.
// The returned slice is the set of nodes to display this frame.
func (s *Streamer) Update(cam model.CameraState) []*model.TileNode {
	var events []Event

	s.mu.Lock()
	s.frame++
	frame := s.frame

	// Completions first, so freshly READY nodes are visible to this
	// frame's selection and freed budget slots can be reused.
	s.drainCompletions(&events)

	selected := make(map[*model.TileNode]struct{})
	var display []*model.TileNode
	if s.root != nil && cam.Valid() {
		s.selectNode(s.root, cam, frame, selected, &display)
	}
	s.selected = selected

	// An in-flight fetch for a node the selection walk no longer reaches
	// frees its concurrency slot promptly instead of completing into the
	// void.
	for node, cancel := range s.cancels {
		if node.LastTouchedFrame != frame {
			cancel()
		}
	}

	// Nodes touched this frame were stamped above, so eviction in the
	// same frame cannot reclaim them.
	s.evict(frame, selected, &events)

	for node, sn := range s.content {
		_, vis := selected[node]
		sn.Visible = vis
	}

	selectedCount := len(display)
	s.mu.Unlock()

	s.updateGauges()
	if s.metrics != nil {
		s.metrics.SelectedNodes.Set(float64(selectedCount))
	}
	for _, ev := range events {
		s.emit(ev)
	}
	return display
}

// selectNode walks the subtree and reports whether it is fully covered:
// either rendered, refined into covered children, or culled. An
// uncovered subtree makes a REPLACE ancestor keep its own content on
// screen as a placeholder, preventing visible holes.
func (s *Streamer) selectNode(n *model.TileNode, cam model.CameraState, frame uint64, selected map[*model.TileNode]struct{}, display *[]*model.TileNode) bool {
	if !s.policy.Visible(n.BoundingVolume, cam) {
		return true
	}
	n.LastTouchedFrame = frame

	refinable := len(n.Children) > 0 || n.ExternalTileset
	sse := screenSpaceError(n, cam)

	if !refinable || sse <= s.opts.SSEThresholdPx {
		return s.displayNode(n, frame, selected, display)
	}

	if n.ExternalTileset {
		// The subtree manifest has to arrive before refinement can
		// descend; until then the parent stands in.
		s.requestIfNeeded(n, frame)
		return false
	}

	covered := true
	for _, child := range n.Children {
		if !s.selectNode(child, cam, frame, selected, display) {
			covered = false
		}
	}

	if n.Refine == model.RefineAdd {
		// ADD parents render alongside their children.
		if !s.displayNode(n, frame, selected, display) {
			covered = false
		}
		return covered
	}

	if !covered && n.HasRenderableContent() {
		// REPLACE placeholder: keep showing the parent until every child
		// subtree reports covered.
		s.displayNode(n, frame, selected, display)
	}
	return covered || n.State == model.LoadStateReady
}

// displayNode marks a node wanted on screen, issuing its content request
// when needed. Returns true when the node either renders this frame or
// has nothing to render.
func (s *Streamer) displayNode(n *model.TileNode, frame uint64, selected map[*model.TileNode]struct{}, display *[]*model.TileNode) bool {
	if !n.HasRenderableContent() {
		// Nothing to render; an unexpanded external manifest is only
		// fetched once refinement actually needs it.
		return true
	}
	s.requestIfNeeded(n, frame)
	if n.State == model.LoadStateReady {
		if _, dup := selected[n]; !dup {
			selected[n] = struct{}{}
			*display = append(*display, n)
		}
		return true
	}
	if n.State == model.LoadStateFailed {
		// The node stays absent from the displayed set; its ancestor
		// continues to stand in.
		return false
	}
	return false
}

// requestIfNeeded advances a node towards FETCHING, respecting the retry
// cooldown for FAILED nodes and the concurrent-request budget. A node
// that cannot get a slot stays QUEUED and is retried on a later frame.
func (s *Streamer) requestIfNeeded(n *model.TileNode, frame uint64) {
	if n.State == model.LoadStateFailed {
		if frame-n.FailedAtFrame < s.opts.RetryCooldownFrames {
			return
		}
		n.State = model.LoadStateUnloaded
	}
	if n.State == model.LoadStateUnloaded {
		n.State = model.LoadStateQueued
	}
	if n.State != model.LoadStateQueued {
		return
	}
	if !s.sem.TryAcquire(1) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[n] = cancel
	s.inflight++
	n.State = model.LoadStateFetching

	go s.fetchAndDecode(ctx, s.generation, s.sem, n, n.ContentURI, n.ExternalTileset)
}

// fetchAndDecode runs off the frame thread. It only touches the node to
// flip FETCHING→PARSING under the streamer lock; everything else is
// reported back through the completions channel and applied by Update.
func (s *Streamer) fetchAndDecode(ctx context.Context, gen uint64, sem *semaphore.Weighted, node *model.TileNode, uri string, external bool) {
	defer sem.Release(1)

	c := completion{gen: gen, node: node, uri: uri, started: time.Now()}

	u, err := url.Parse(uri)
	if err != nil {
		c.err = fmt.Errorf("content uri %q: %w", uri, err)
		s.completions <- c
		return
	}

	data, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		c.err = err
		s.completions <- c
		return
	}

	s.mu.Lock()
	if s.generation == gen && node.State == model.LoadStateFetching {
		node.State = model.LoadStateParsing
	}
	s.mu.Unlock()

	if external {
		subRoot, warnings, err := ParseTileset(bytes.NewReader(data), u, s.resolver)
		if err != nil {
			c.err = err
		} else {
			c.subRoot = subRoot
			c.warnings = warnings
		}
	} else {
		sn, size, err := s.decoder.Decode(ctx, data)
		if err != nil {
			c.err = err
		} else {
			c.content = sn
			c.bytes = size
		}
	}
	s.completions <- c
}

// drainCompletions applies finished fetches on the frame thread. Caller
// holds s.mu.
func (s *Streamer) drainCompletions(events *[]Event) {
	for {
		select {
		case c := <-s.completions:
			s.finishCompletion(c, events)
		default:
			return
		}
	}
}

func (s *Streamer) finishCompletion(c completion, events *[]Event) {
	if c.gen != s.generation {
		// Completion from a dataset that was switched away; its budget
		// accounting was reset at switch time.
		return
	}

	node := c.node
	if cancel, ok := s.cancels[node]; ok {
		cancel()
		delete(s.cancels, node)
	}
	s.inflight--

	switch {
	case c.err != nil:
		if errors.Is(c.err, context.Canceled) {
			node.State = model.LoadStateUnloaded
			if s.metrics != nil {
				s.metrics.FetchesTotal.WithLabelValues("cancelled").Inc()
			}
			return
		}
		node.State = model.LoadStateFailed
		node.FailedAtFrame = s.frame
		s.statsFetchFailed++
		if s.metrics != nil {
			s.metrics.FetchesTotal.WithLabelValues("failed").Inc()
		}
		s.log.Warn(context.Background(), "tile load failed",
			logging.String("uri", c.uri), logging.Err(c.err))
		*events = append(*events, Event{Type: EventNodeFailed, URI: c.uri, Frame: s.frame, Err: c.err})

	case c.subRoot != nil:
		// Graft the external subtree; the carrier node keeps no content
		// of its own.
		c.subRoot.Parent = node
		node.Children = append(node.Children, c.subRoot)
		node.ContentURI = ""
		node.ExternalTileset = false
		node.State = model.LoadStateUnloaded
		for _, w := range c.warnings {
			*events = append(*events, Event{Type: EventManifestWarning, URI: c.uri, Frame: s.frame, Message: w})
		}
		*events = append(*events, Event{Type: EventTilesetLoaded, URI: c.uri, Frame: s.frame})

	default:
		node.State = model.LoadStateReady
		node.ContentBytes = c.bytes
		s.residentBytes += c.bytes
		c.content.Transform = subtreeTransform(node)
		s.content[node] = c.content
		s.sceneRoot.Attach(c.content)
		s.statsFetchOK++
		if s.metrics != nil {
			s.metrics.FetchesTotal.WithLabelValues("ok").Inc()
			s.metrics.FetchDuration.Observe(time.Since(c.started).Seconds())
		}
		*events = append(*events, Event{Type: EventNodeReady, URI: c.uri, Frame: s.frame})
	}
}

// evict reclaims content for nodes untouched for EvictAfterFrames, then
// keeps evicting least-recently-touched nodes while the resident byte
// budget is exceeded. Nodes selected this frame are never evicted in the
// same frame. Caller holds s.mu.
func (s *Streamer) evict(frame uint64, selected map[*model.TileNode]struct{}, events *[]Event) {
	for node := range s.content {
		if _, ok := selected[node]; ok {
			continue
		}
		if frame-node.LastTouchedFrame > s.opts.EvictAfterFrames {
			s.evictNode(node, frame, events)
		}
	}

	if s.residentBytes <= s.budget.MaxResidentBytes {
		return
	}

	candidates := make([]*model.TileNode, 0, len(s.content))
	for node := range s.content {
		if _, ok := selected[node]; !ok {
			candidates = append(candidates, node)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.LastTouchedFrame != b.LastTouchedFrame {
			return a.LastTouchedFrame < b.LastTouchedFrame
		}
		// Prefer leaves at equal age.
		return len(a.Children) < len(b.Children)
	})
	for _, node := range candidates {
		if s.residentBytes <= s.budget.MaxResidentBytes {
			break
		}
		s.evictNode(node, frame, events)
	}
}

func (s *Streamer) evictNode(node *model.TileNode, frame uint64, events *[]Event) {
	sn := s.content[node]
	s.sceneRoot.Detach(sn)
	delete(s.content, node)
	s.residentBytes -= node.ContentBytes
	node.ContentBytes = 0
	node.State = model.LoadStateUnloaded
	s.statsEvictions++
	if s.metrics != nil {
		s.metrics.EvictionsTotal.Inc()
	}
	*events = append(*events, Event{Type: EventNodeEvicted, URI: node.ContentURI, Frame: frame})
}

// subtreeTransform accumulates the manifest transforms from the root down
// to node; decoded content attaches at that composed local transform.
func subtreeTransform(node *model.TileNode) mgl64.Mat4 {
	acc := node.Transform
	for p := node.Parent; p != nil; p = p.Parent {
		acc = p.Transform.Mul4(acc)
	}
	return acc
}

// screenSpaceError projects a node's geometric error into pixels for the
// given camera. A camera inside the bounding volume yields +Inf, forcing
// refinement.
func screenSpaceError(n *model.TileNode, cam model.CameraState) float64 {
	if n.GeometricError <= 0 {
		return 0
	}
	dist := cam.PositionEcef.Sub(n.BoundingVolume.Center()).Len() - n.BoundingVolume.Radius()
	if dist <= 0 {
		return math.Inf(1)
	}
	return n.GeometricError * float64(cam.ViewportHeight) / (2 * dist * math.Tan(cam.FovYRadians/2))
}

// Scene returns the root of the internal scene graph. Frame thread only.
func (s *Streamer) Scene() *scene.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sceneRoot
}

// Root returns the current tile hierarchy root, nil before a dataset is
// loaded.
func (s *Streamer) Root() *model.TileNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// ResidentBytes reports the decoded content bytes currently held.
func (s *Streamer) ResidentBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.residentBytes
}

// InFlight reports requests currently fetching or parsing.
func (s *Streamer) InFlight() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Frame returns the current frame counter.
func (s *Streamer) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Stats is a snapshot of the streamer's cumulative counters.
type Stats struct {
	FetchesOK     uint64
	FetchesFailed uint64
	Evictions     uint64
	ResidentBytes int64
	ResidentNodes int
	InFlight      int64
}

// Snapshot returns current counter values.
func (s *Streamer) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		FetchesOK:     s.statsFetchOK,
		FetchesFailed: s.statsFetchFailed,
		Evictions:     s.statsEvictions,
		ResidentBytes: s.residentBytes,
		ResidentNodes: len(s.content),
		InFlight:      s.inflight,
	}
}

func (s *Streamer) updateGauges() {
	if s.metrics == nil {
		return
	}
	snap := s.Snapshot()
	s.metrics.ResidentBytes.Set(float64(snap.ResidentBytes))
	s.metrics.ResidentNodes.Set(float64(snap.ResidentNodes))
	s.metrics.InflightRequests.Set(float64(snap.InFlight))
}

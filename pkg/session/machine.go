// Package session owns the route safety session lifecycle: route selection,
// the in-flight analysis request, and the ready or failed outcome.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"saferoute/pkg/model"
	"saferoute/pkg/story"
)

// DefaultTimeout bounds a single analysis request when Options leave it unset.
const DefaultTimeout = 30 * time.Second

// Analyzer performs the remote safety analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error)
}

// Options configures a Machine.
type Options struct {
	// ID only labels log lines.
	ID         string
	Conditions model.Conditions
	Timeout    time.Duration
	// BaseContext is the parent of every request context. Defaults to Background.
	BaseContext context.Context
	// OnStory is called outside the lock whenever a new story is built.
	OnStory func(*story.Story)
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Phase  model.Phase           `json:"phase"`
	Route  *model.RouteDetails   `json:"route,omitempty"`
	Result *model.AnalysisResult `json:"result,omitempty"`
	Error  *model.ErrorInfo      `json:"error,omitempty"`
	Story  *story.Story          `json:"story,omitempty"`
}

// Machine is the session state machine. All transitions are serialized under
// one mutex; the remote call runs on its own goroutine.
type Machine struct {
	analyzer Analyzer
	opts     Options

	mu     sync.Mutex
	phase  model.Phase
	route  *model.RouteDetails
	result *model.AnalysisResult
	story  *story.Story
	err    *model.ErrorInfo

	// gen is bumped whenever an in-flight response must be discarded.
	gen    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup

	subs    map[int]chan Snapshot
	nextSub int
}

// NewMachine creates a Machine in the Planning phase.
func NewMachine(analyzer Analyzer, opts Options) *Machine {
	if opts.Conditions == (model.Conditions{}) {
		opts.Conditions = model.DefaultConditions()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &Machine{
		analyzer: analyzer,
		opts:     opts,
		phase:    model.PhasePlanning,
		subs:     make(map[int]chan Snapshot),
	}
}

// SubmitRoute confirms the route and starts the analysis. It returns false,
// changing nothing, when the route is invalid or a request is already in flight.
func (m *Machine) SubmitRoute(route *model.RouteDetails) bool {
	if route == nil || route.Validate() != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.phase == model.PhaseAnalyzing {
		return false
	}

	m.route = route.Clone()
	m.result = nil
	m.story = nil
	m.err = nil
	m.setPhase(model.PhaseRouteConfirmed)
	m.setPhase(model.PhaseAnalyzing)

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(m.opts.BaseContext, m.opts.Timeout)
	m.cancel = cancel
	req := model.NewAnalysisRequest(m.route, m.opts.Conditions)

	m.wg.Add(1)
	go m.run(ctx, cancel, gen, req)
	return true
}

type outcome struct {
	res *model.AnalysisResult
	err error
}

func (m *Machine) run(ctx context.Context, cancel context.CancelFunc, gen uint64, req *model.AnalysisRequest) {
	defer m.wg.Done()
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := m.analyzer.Analyze(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}
	if out.err == nil && out.res == nil {
		out.err = model.UnknownError("The safety analysis service returned no result")
	}
	m.complete(gen, out.res, out.err)
}

func (m *Machine) complete(gen uint64, res *model.AnalysisResult, err error) {
	m.mu.Lock()
	if gen != m.gen || m.phase != model.PhaseAnalyzing {
		m.mu.Unlock()
		slog.Debug("Discarding stale analysis response", "session", m.opts.ID)
		return
	}
	m.cancel = nil

	if err != nil {
		m.err = Classify(err)
		slog.Warn("Analysis failed", "session", m.opts.ID, "category", m.err.Category, "status", m.err.HTTPStatus, "message", m.err.Message)
		m.setPhase(model.PhaseFailed)
		m.mu.Unlock()
		return
	}

	r := *res
	m.result = &r
	m.story = story.Build(m.result)
	st := m.story
	hook := m.opts.OnStory
	slog.Info("Analysis ready", "session", m.opts.ID, "score", r.SafetyScore, "has_story", st != nil)
	m.setPhase(model.PhaseReadyToPlay)
	m.mu.Unlock()

	if st != nil && hook != nil {
		hook(st)
	}
}

// Classify turns any analysis failure into an ErrorInfo. Deadline expiry is a
// Network failure; anything unrecognized is Unknown.
func Classify(err error) *model.ErrorInfo {
	var info *model.ErrorInfo
	if errors.As(err, &info) {
		return info
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NetworkError("The safety analysis service did not respond in time")
	}
	if errors.Is(err, context.Canceled) {
		return model.UnknownError("The analysis was cancelled")
	}
	return model.UnknownError(err.Error())
}

// DismissError clears a failure and returns to RouteConfirmed. The route and
// any previous result are kept and no request is issued.
func (m *Machine) DismissError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != model.PhaseFailed {
		return false
	}
	m.err = nil
	m.setPhase(model.PhaseRouteConfirmed)
	return true
}

// Reset returns to Planning from any phase. An in-flight request is cancelled
// and its response discarded.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortLocked()
	m.route = nil
	m.result = nil
	m.story = nil
	m.err = nil
	m.setPhase(model.PhasePlanning)
}

func (m *Machine) abortLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
}

func (m *Machine) CurrentPhase() model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) CurrentRoute() *model.RouteDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route.Clone()
}

func (m *Machine) CurrentResult() *model.AnalysisResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return nil
	}
	r := *m.result
	return &r
}

func (m *Machine) CurrentError() *model.ErrorInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		return nil
	}
	e := *m.err
	return &e
}

// CurrentStory returns the story built from the current result, or nil.
func (m *Machine) CurrentStory() *story.Story {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.story
}

// Snapshot returns the whole state at one instant.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase: m.phase,
		Route: m.route.Clone(),
		Story: m.story,
	}
	if m.result != nil {
		r := *m.result
		s.Result = &r
	}
	if m.err != nil {
		e := *m.err
		s.Error = &e
	}
	return s
}

// Subscribe streams snapshots, starting with the current one. When the
// buffer is full the oldest pending snapshot is dropped, so a slow reader
// always ends on the latest state. The returned func unsubscribes.
func (m *Machine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// setPhase must be called with mu held.
func (m *Machine) setPhase(p model.Phase) {
	prev := m.phase
	m.phase = p
	slog.Debug("Session phase", "session", m.opts.ID, "from", prev, "to", p)

	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Wait blocks until no analysis goroutine is running.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Close cancels any in-flight request, closes all subscriptions and waits
// for background work to finish. The machine ignores further submissions.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.abortLocked()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

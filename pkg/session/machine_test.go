package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/pkg/model"
	"saferoute/pkg/story"
)

// fakeAnalyzer blocks each call until a reply is pushed or the context ends.
type fakeAnalyzer struct {
	calls   int32
	mu      sync.Mutex
	lastReq *model.AnalysisRequest
	started chan struct{}
	replies chan outcome
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		started: make(chan struct{}, 10),
		replies: make(chan outcome, 10),
	}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	f.started <- struct{}{}
	select {
	case o := <-f.replies:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAnalyzer) reply(res *model.AnalysisResult, err error) {
	f.replies <- outcome{res: res, err: err}
}

func (f *fakeAnalyzer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer was not called")
	}
}

func testRoute() *model.RouteDetails {
	return &model.RouteDetails{StartAddress: "1 Main St", EndAddress: "9 Elm St"}
}

func TestSubmitRoute_Success(t *testing.T) {
	fa := newFakeAnalyzer()
	var hooked atomic.Pointer[story.Story]
	m := NewMachine(fa, Options{OnStory: func(s *story.Story) { hooked.Store(s) }})
	defer m.Close()

	require.Equal(t, model.PhasePlanning, m.CurrentPhase())
	require.True(t, m.SubmitRoute(testRoute()))
	// Phase change is synchronous with the call.
	assert.Equal(t, model.PhaseAnalyzing, m.CurrentPhase())

	fa.waitStarted(t)
	fa.mu.Lock()
	assert.Equal(t, &model.AnalysisRequest{
		Origin: "1 Main St", Destination: "9 Elm St", Speed: 55.0,
		Weather: model.WeatherClear, Traffic: model.TrafficModerate,
	}, fa.lastReq)
	fa.mu.Unlock()

	fa.reply(&model.AnalysisResult{SafetyScore: 82, Narrative: "Clear conditions."}, nil)
	m.Wait()

	assert.Equal(t, model.PhaseReadyToPlay, m.CurrentPhase())
	assert.Equal(t, &model.AnalysisResult{SafetyScore: 82, Narrative: "Clear conditions."}, m.CurrentResult())
	assert.Nil(t, m.CurrentError())

	st := m.CurrentStory()
	require.NotNil(t, st)
	require.Equal(t, 1, st.Len())
	seg, _ := st.Segment(1)
	assert.Equal(t, "Clear conditions.", seg.Text())
	_, hasAudio := seg.Audio()
	assert.False(t, hasAudio)
	assert.Same(t, st, hooked.Load())
}

func TestSubmitRoute_ScoreOnlyHasNoStory(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(&model.AnalysisResult{SafetyScore: 50}, nil)
	m.Wait()

	assert.Equal(t, model.PhaseReadyToPlay, m.CurrentPhase())
	assert.Nil(t, m.CurrentStory())
}

func TestSubmitRoute_IgnoredWhileAnalyzing(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.waitStarted(t)

	other := &model.RouteDetails{StartAddress: "A", EndAddress: "B"}
	assert.False(t, m.SubmitRoute(other))
	assert.Equal(t, model.PhaseAnalyzing, m.CurrentPhase())
	assert.Equal(t, "1 Main St", m.CurrentRoute().StartAddress)

	fa.reply(&model.AnalysisResult{SafetyScore: 70, Narrative: "ok"}, nil)
	m.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fa.calls))
}

func TestSubmitRoute_InvalidRoute(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	assert.False(t, m.SubmitRoute(nil))
	assert.False(t, m.SubmitRoute(&model.RouteDetails{StartAddress: "only start"}))
	assert.Equal(t, model.PhasePlanning, m.CurrentPhase())
	assert.Equal(t, int32(0), atomic.LoadInt32(&fa.calls))
}

func TestSubmitRoute_StatusFailure(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(nil, model.StatusError(500, "Engine overloaded"))
	m.Wait()

	assert.Equal(t, model.PhaseFailed, m.CurrentPhase())
	assert.Equal(t, &model.ErrorInfo{Category: model.ErrorBackendStatus, Message: "Engine overloaded", HTTPStatus: 500}, m.CurrentError())
	assert.Nil(t, m.CurrentResult())
}

func TestSubmitRoute_Timeout(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{Timeout: 30 * time.Millisecond})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	m.Wait()

	assert.Equal(t, model.PhaseFailed, m.CurrentPhase())
	e := m.CurrentError()
	require.NotNil(t, e)
	assert.Equal(t, model.ErrorNetwork, e.Category)
	assert.False(t, e.HasStatus())
}

func TestSubmitRoute_UnclassifiedError(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(nil, errors.New("boom"))
	m.Wait()

	e := m.CurrentError()
	require.NotNil(t, e)
	assert.Equal(t, model.ErrorUnknown, e.Category)
	assert.Equal(t, "boom", e.Message)
}

func TestDismissError(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	assert.False(t, m.DismissError(), "dismiss outside Failed is a no-op")

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(nil, model.NetworkError("connection refused"))
	m.Wait()
	require.Equal(t, model.PhaseFailed, m.CurrentPhase())

	assert.True(t, m.DismissError())
	assert.Equal(t, model.PhaseRouteConfirmed, m.CurrentPhase())
	assert.Nil(t, m.CurrentError())
	assert.Equal(t, "9 Elm St", m.CurrentRoute().EndAddress)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fa.calls), "dismiss must not retry")

	// A resubmission from RouteConfirmed starts a new request.
	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(&model.AnalysisResult{SafetyScore: 90, Narrative: "Dry."}, nil)
	m.Wait()
	assert.Equal(t, model.PhaseReadyToPlay, m.CurrentPhase())
}

func TestReset_DiscardsLateResponse(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.waitStarted(t)

	m.Reset()
	assert.Equal(t, model.PhasePlanning, m.CurrentPhase())
	assert.Nil(t, m.CurrentRoute())

	fa.reply(&model.AnalysisResult{SafetyScore: 10, Narrative: "late"}, nil)
	m.Wait()

	assert.Equal(t, model.PhasePlanning, m.CurrentPhase())
	assert.Nil(t, m.CurrentResult())
	assert.Nil(t, m.CurrentStory())
}

func TestResubmitFromReady_ClearsPreviousResult(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(&model.AnalysisResult{SafetyScore: 82, Narrative: "Clear."}, nil)
	m.Wait()
	first := m.CurrentStory()
	require.NotNil(t, first)

	require.True(t, m.SubmitRoute(&model.RouteDetails{StartAddress: "A", EndAddress: "B"}))
	assert.Nil(t, m.CurrentResult())
	assert.Nil(t, m.CurrentStory())

	fa.reply(&model.AnalysisResult{SafetyScore: 30, Narrative: "Snow."}, nil)
	m.Wait()
	second := m.CurrentStory()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	seg, _ := first.Segment(1)
	assert.Equal(t, "Clear.", seg.Text(), "old story is never mutated")
}

func TestSubscribe_ObservesEveryTransition(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	ch, cancel := m.Subscribe(8)
	defer cancel()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(&model.AnalysisResult{SafetyScore: 82, Narrative: "Clear."}, nil)
	m.Wait()

	var phases []model.Phase
	for i := 0; i < 4; i++ {
		select {
		case s := <-ch:
			phases = append(phases, s.Phase)
		case <-time.After(time.Second):
			t.Fatalf("missing snapshot, got %v", phases)
		}
	}
	assert.Equal(t, []model.Phase{
		model.PhasePlanning,
		model.PhaseRouteConfirmed,
		model.PhaseAnalyzing,
		model.PhaseReadyToPlay,
	}, phases)
}

func TestSubscribe_SlowReaderGetsLatest(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})
	defer m.Close()

	ch, cancel := m.Subscribe(1)
	defer cancel()

	require.True(t, m.SubmitRoute(testRoute()))
	fa.reply(nil, model.NetworkError("down"))
	m.Wait()

	s := <-ch
	assert.Equal(t, model.PhaseFailed, s.Phase)
	require.NotNil(t, s.Error)
	assert.Equal(t, "down", s.Error.Message)
}

func TestClose(t *testing.T) {
	fa := newFakeAnalyzer()
	m := NewMachine(fa, Options{})

	ch, _ := m.Subscribe(4)
	require.True(t, m.SubmitRoute(testRoute()))
	fa.waitStarted(t)

	m.Close()
	for range ch {
	}
	assert.False(t, m.SubmitRoute(testRoute()))

	late, _ := m.Subscribe(1)
	_, open := <-late
	assert.False(t, open)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.ErrorNetwork, Classify(context.DeadlineExceeded).Category)
	assert.Equal(t, model.ErrorUnknown, Classify(context.Canceled).Category)

	info := model.StatusError(503, "busy")
	assert.Same(t, info, Classify(info))
}

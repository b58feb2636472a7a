package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
)

// fakeBackend records every call and tracks how many run at once.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	gates     map[string]chan struct{}
	entered   map[string]chan struct{}
	fail      map[string]error
	pipelines map[int]*devops.ReleasePipeline
	releases  map[int]*devops.Release

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gates:     make(map[string]chan struct{}),
		entered:   make(map[string]chan struct{}),
		fail:      make(map[string]error),
		pipelines: make(map[int]*devops.ReleasePipeline),
		releases:  make(map[int]*devops.Release),
	}
}

// block makes the next call with key wait until release is called or its
// context ends. entered is closed when that call starts.
func (f *fakeBackend) block(key string) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gate := make(chan struct{})
	in := make(chan struct{})
	f.gates[key] = gate
	f.entered[key] = in
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeBackend) failWith(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) call(ctx context.Context, key string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, key)
	gate := f.gates[key]
	in := f.entered[key]
	delete(f.gates, key)
	delete(f.entered, key)
	err := f.fail[key]
	f.mu.Unlock()

	if in != nil {
		close(in)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return errors.Canceled(key, ctx.Err())
		}
	}
	runtime.Gosched()
	return err
}

func (f *fakeBackend) ListPipelines(ctx context.Context) (*devops.ReleasePipelinesResponse, error) {
	if err := f.call(ctx, "list-pipelines"); err != nil {
		return nil, err
	}
	return &devops.ReleasePipelinesResponse{Count: 1, Value: []devops.PipelineSummary{{ID: 1, Name: "web"}}}, nil
}

func (f *fakeBackend) GetPipeline(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error) {
	if err := f.call(ctx, fmt.Sprintf("get-pipeline:%d", pipelineID)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	p, ok := f.pipelines[pipelineID]
	f.mu.Unlock()
	if ok {
		return p, nil
	}
	return &devops.ReleasePipeline{ID: pipelineID, Name: fmt.Sprintf("pipeline-%d", pipelineID)}, nil
}

func (f *fakeBackend) GetPipelineDefinition(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error) {
	if err := f.call(ctx, fmt.Sprintf("get-pipeline-definition:%d", pipelineID)); err != nil {
		return nil, err
	}
	return &devops.ReleasePipeline{ID: pipelineID, Name: fmt.Sprintf("definition-%d", pipelineID)}, nil
}

func (f *fakeBackend) ListReleases(ctx context.Context, pipelineID int) (*devops.ReleasesResponse, error) {
	if err := f.call(ctx, fmt.Sprintf("list-releases:%d", pipelineID)); err != nil {
		return nil, err
	}
	return &devops.ReleasesResponse{Count: 1, Value: []devops.ReleaseSummary{{ID: pipelineID * 100}}}, nil
}

func (f *fakeBackend) GetRelease(ctx context.Context, releaseID int) (*devops.Release, error) {
	if err := f.call(ctx, fmt.Sprintf("get-release:%d", releaseID)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	r, ok := f.releases[releaseID]
	f.mu.Unlock()
	if ok {
		return r, nil
	}
	return &devops.Release{ID: releaseID, Name: fmt.Sprintf("Release-%d", releaseID)}, nil
}

func (f *fakeBackend) AgentSpecifications(ctx context.Context) ([]devops.EnvironmentAgentInfo, error) {
	if err := f.call(ctx, "agent-specs"); err != nil {
		return nil, err
	}
	return []devops.EnvironmentAgentInfo{{PipelineID: 1, EnvironmentID: 10, CurrentAgentSpec: "windows-2019", CanUpdate: true}}, nil
}

func (f *fakeBackend) StartRelease(ctx context.Context, req devops.StartReleaseRequest) error {
	return f.call(ctx, fmt.Sprintf("start-release:%d/%d", req.ReleaseID, req.EnvironmentID))
}

func (f *fakeBackend) CancelRelease(ctx context.Context, req devops.CancelReleaseRequest) error {
	return f.call(ctx, fmt.Sprintf("cancel-release:%d/%d", req.ReleaseID, req.EnvironmentID))
}

func (f *fakeBackend) ApproveRelease(ctx context.Context, approvalID int) error {
	return f.call(ctx, fmt.Sprintf("approve:%d", approvalID))
}

func (f *fakeBackend) UpdateAgentSpecification(ctx context.Context, req devops.UpdateAgentSpecRequest) error {
	return f.call(ctx, fmt.Sprintf("update-agent-spec:%d/%d", req.PipelineID, req.EnvironmentID))
}

// eventRecorder is a Publisher that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (r *eventRecorder) Publish(ev *bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) ofType(t bus.EventType) []*bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bus.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

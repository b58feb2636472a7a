package gateway

import (
	"context"
	"sync"

	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/worker"
)

type fakeDashboard struct {
	mu sync.Mutex

	pipelines *devops.ReleasePipelinesResponse
	pipeline  map[int]*devops.ReleasePipeline
	releases  map[int]*devops.Release
	snapshot  *worker.ReleaseEnvironmentDetails
	details   map[int]worker.EnvironmentDetails
	agents    []devops.EnvironmentAgentInfo
	err       error

	starts    []devops.StartReleaseRequest
	cancels   []devops.CancelReleaseRequest
	approvals []int
	updates   []devops.UpdateAgentSpecRequest
	ctxErrs   []error
}

var (
	_ worker.Query   = (*fakeDashboard)(nil)
	_ worker.Command = (*fakeDashboard)(nil)
)

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{
		pipeline: map[int]*devops.ReleasePipeline{},
		releases: map[int]*devops.Release{},
		details:  map[int]worker.EnvironmentDetails{},
	}
}

func (f *fakeDashboard) ListPipelines(ctx context.Context) (*devops.ReleasePipelinesResponse, error) {
	return f.pipelines, f.err
}

func (f *fakeDashboard) GetPipeline(ctx context.Context, id int) (*devops.ReleasePipeline, error) {
	return f.pipeline[id], f.err
}

func (f *fakeDashboard) GetPipelineDefinition(ctx context.Context, id int) (*devops.ReleasePipeline, error) {
	return f.pipeline[id], f.err
}

func (f *fakeDashboard) ListReleases(ctx context.Context, id int) (*devops.ReleasesResponse, error) {
	return &devops.ReleasesResponse{}, f.err
}

func (f *fakeDashboard) GetRelease(ctx context.Context, id int) (*devops.Release, error) {
	return f.releases[id], f.err
}

func (f *fakeDashboard) AgentSpecifications(ctx context.Context) ([]devops.EnvironmentAgentInfo, error) {
	return f.agents, f.err
}

func (f *fakeDashboard) GetEnvironmentDetails(ctx context.Context, pipelineID, releaseID int) (*worker.ReleaseEnvironmentDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.snapshot == nil {
		return nil, errors.NotFound("release")
	}
	return f.snapshot, nil
}

func (f *fakeDashboard) EnvironmentDetails(id int) (worker.EnvironmentDetails, bool) {
	d, ok := f.details[id]
	return d, ok
}

func (f *fakeDashboard) record(ctx context.Context) error {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

func (f *fakeDashboard) StartRelease(ctx context.Context, req devops.StartReleaseRequest) error {
	return f.StartReleases(ctx, []devops.StartReleaseRequest{req})
}

func (f *fakeDashboard) StartReleases(ctx context.Context, reqs []devops.StartReleaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, reqs...)
	return f.record(ctx)
}

func (f *fakeDashboard) CancelRelease(ctx context.Context, req devops.CancelReleaseRequest) error {
	return f.CancelReleases(ctx, []devops.CancelReleaseRequest{req})
}

func (f *fakeDashboard) CancelReleases(ctx context.Context, reqs []devops.CancelReleaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, reqs...)
	return f.record(ctx)
}

func (f *fakeDashboard) ApproveRelease(ctx context.Context, id int) error {
	return f.ApproveReleases(ctx, []int{id})
}

func (f *fakeDashboard) ApproveReleases(ctx context.Context, ids []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, ids...)
	return f.record(ctx)
}

func (f *fakeDashboard) UpdateAgentSpecification(ctx context.Context, req devops.UpdateAgentSpecRequest) error {
	return f.UpdateAgentSpecifications(ctx, []devops.UpdateAgentSpecRequest{req})
}

func (f *fakeDashboard) UpdateAgentSpecifications(ctx context.Context, reqs []devops.UpdateAgentSpecRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, reqs...)
	return f.record(ctx)
}

type fakeStatus struct {
	state   worker.State
	pending int
}

func (s fakeStatus) State() worker.State { return s.state }
func (s fakeStatus) Pending() int        { return s.pending }

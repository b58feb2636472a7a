package worker

import (
	"context"

	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
)

// Query is the read side offered to request handlers.
type Query interface {
	ListPipelines(ctx context.Context) (*devops.ReleasePipelinesResponse, error)
	GetPipeline(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error)
	GetPipelineDefinition(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error)
	ListReleases(ctx context.Context, pipelineID int) (*devops.ReleasesResponse, error)
	GetRelease(ctx context.Context, releaseID int) (*devops.Release, error)
	AgentSpecifications(ctx context.Context) ([]devops.EnvironmentAgentInfo, error)
	GetEnvironmentDetails(ctx context.Context, pipelineID, releaseID int) (*ReleaseEnvironmentDetails, error)
	EnvironmentDetails(environmentID int) (EnvironmentDetails, bool)
}

// Command is the write side. Every method returns once its messages are
// enqueued; execution happens later on the worker.
type Command interface {
	StartRelease(ctx context.Context, req devops.StartReleaseRequest) error
	StartReleases(ctx context.Context, reqs []devops.StartReleaseRequest) error
	CancelRelease(ctx context.Context, req devops.CancelReleaseRequest) error
	CancelReleases(ctx context.Context, reqs []devops.CancelReleaseRequest) error
	ApproveRelease(ctx context.Context, approvalID int) error
	ApproveReleases(ctx context.Context, approvalIDs []int) error
	UpdateAgentSpecification(ctx context.Context, req devops.UpdateAgentSpecRequest) error
	UpdateAgentSpecifications(ctx context.Context, reqs []devops.UpdateAgentSpecRequest) error
}

// Lifetime exposes the process stop signals. *lifetime.Lifetime implements it.
type Lifetime interface {
	ApplicationStopping() context.Context
	ApplicationStopped() context.Context
}

// Proxy implements Query and Command on top of a Worker.
type Proxy struct {
	mailbox  *Mailbox
	cache    *EnvironmentCache
	lifetime Lifetime
}

var (
	_ Query   = (*Proxy)(nil)
	_ Command = (*Proxy)(nil)
)

// NewProxy creates the facade for w.
func NewProxy(w *Worker, lt Lifetime) *Proxy {
	return &Proxy{
		mailbox:  w.Mailbox(),
		cache:    w.Cache(),
		lifetime: lt,
	}
}

// callContext derives a context that ends with the caller's context or when
// the process starts or finishes stopping, whichever happens first.
func (p *Proxy) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancelCause(ctx)
	onStopping := func() { cancel(errors.Shutdown("call")) }
	stopStopping := context.AfterFunc(p.lifetime.ApplicationStopping(), onStopping)
	stopStopped := context.AfterFunc(p.lifetime.ApplicationStopped(), onStopping)
	return callCtx, func() {
		stopStopping()
		stopStopped()
		cancel(context.Canceled)
	}
}

func ask[T any](p *Proxy, ctx context.Context, kind Kind, attach func(*Message, *Conduit[T])) (T, error) {
	var zero T

	callCtx, release := p.callContext(ctx)
	defer release()

	reply := NewConduit[T]()
	msg := NewMessage(callCtx, nil)
	attach(msg, reply)

	if err := p.mailbox.Enqueue(callCtx, msg); err != nil {
		return zero, err
	}
	v, err := reply.Receive(callCtx)
	if err != nil {
		return zero, errors.Canceled(kind.String(), err)
	}
	return v, nil
}

func (p *Proxy) tell(ctx context.Context, attach func(*Message)) error {
	callCtx, release := p.callContext(ctx)
	msg := NewMessage(callCtx, release)
	attach(msg)
	if err := p.mailbox.Enqueue(callCtx, msg); err != nil {
		release()
		return err
	}
	return nil
}

func (p *Proxy) ListPipelines(ctx context.Context) (*devops.ReleasePipelinesResponse, error) {
	return ask(p, ctx, KindListPipelines, func(m *Message, c *Conduit[*devops.ReleasePipelinesResponse]) {
		m.ListPipelines = &ListPipelines{Reply: c}
	})
}

func (p *Proxy) GetPipeline(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error) {
	return ask(p, ctx, KindGetPipeline, func(m *Message, c *Conduit[*devops.ReleasePipeline]) {
		m.GetPipeline = &GetPipeline{PipelineID: pipelineID, Reply: c}
	})
}

func (p *Proxy) GetPipelineDefinition(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error) {
	return ask(p, ctx, KindGetPipelineDefinition, func(m *Message, c *Conduit[*devops.ReleasePipeline]) {
		m.GetPipelineDefinition = &GetPipelineDefinition{PipelineID: pipelineID, Reply: c}
	})
}

func (p *Proxy) ListReleases(ctx context.Context, pipelineID int) (*devops.ReleasesResponse, error) {
	return ask(p, ctx, KindListReleases, func(m *Message, c *Conduit[*devops.ReleasesResponse]) {
		m.ListReleases = &ListReleases{PipelineID: pipelineID, Reply: c}
	})
}

func (p *Proxy) GetRelease(ctx context.Context, releaseID int) (*devops.Release, error) {
	return ask(p, ctx, KindGetRelease, func(m *Message, c *Conduit[*devops.Release]) {
		m.GetRelease = &GetRelease{ReleaseID: releaseID, Reply: c}
	})
}

func (p *Proxy) AgentSpecifications(ctx context.Context) ([]devops.EnvironmentAgentInfo, error) {
	return ask(p, ctx, KindGetAgentSpecs, func(m *Message, c *Conduit[[]devops.EnvironmentAgentInfo]) {
		m.GetAgentSpecs = &GetAgentSpecs{Reply: c}
	})
}

// GetEnvironmentDetails takes a snapshot of a release and refreshes the
// environment cache from it.
func (p *Proxy) GetEnvironmentDetails(ctx context.Context, pipelineID, releaseID int) (*ReleaseEnvironmentDetails, error) {
	return ask(p, ctx, KindGetEnvironmentDetails, func(m *Message, c *Conduit[*ReleaseEnvironmentDetails]) {
		m.GetEnvironmentDetails = &GetEnvironmentDetails{PipelineID: pipelineID, ReleaseID: releaseID, Reply: c}
	})
}

// EnvironmentDetails reads the cache directly. It is not ordered with
// respect to work still queued on the worker.
func (p *Proxy) EnvironmentDetails(environmentID int) (EnvironmentDetails, bool) {
	return p.cache.Get(environmentID)
}

func (p *Proxy) StartRelease(ctx context.Context, req devops.StartReleaseRequest) error {
	return p.tell(ctx, func(m *Message) { m.StartRelease = &StartRelease{Request: req} })
}

func (p *Proxy) StartReleases(ctx context.Context, reqs []devops.StartReleaseRequest) error {
	for _, req := range reqs {
		if err := p.StartRelease(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) CancelRelease(ctx context.Context, req devops.CancelReleaseRequest) error {
	return p.tell(ctx, func(m *Message) { m.CancelRelease = &CancelRelease{Request: req} })
}

func (p *Proxy) CancelReleases(ctx context.Context, reqs []devops.CancelReleaseRequest) error {
	for _, req := range reqs {
		if err := p.CancelRelease(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) ApproveRelease(ctx context.Context, approvalID int) error {
	return p.tell(ctx, func(m *Message) { m.ApproveRelease = &ApproveRelease{ApprovalID: approvalID} })
}

func (p *Proxy) ApproveReleases(ctx context.Context, approvalIDs []int) error {
	for _, id := range approvalIDs {
		if err := p.ApproveRelease(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) UpdateAgentSpecification(ctx context.Context, req devops.UpdateAgentSpecRequest) error {
	return p.tell(ctx, func(m *Message) { m.UpdateAgentSpec = &UpdateAgentSpec{Request: req} })
}

func (p *Proxy) UpdateAgentSpecifications(ctx context.Context, reqs []devops.UpdateAgentSpecRequest) error {
	for _, req := range reqs {
		if err := p.UpdateAgentSpecification(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

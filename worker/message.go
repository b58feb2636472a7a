package worker

import (
	"context"
	"time"

	"github.com/smallnest/releasedash/devops"
)

// Kind identifies the variant carried by a Message.
type Kind int

const (
	KindUnknown Kind = iota
	KindListPipelines
	KindGetPipeline
	KindGetPipelineDefinition
	KindListReleases
	KindGetRelease
	KindGetAgentSpecs
	KindGetEnvironmentDetails
	KindStartRelease
	KindCancelRelease
	KindApproveRelease
	KindUpdateAgentSpec
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindListPipelines:         "list-pipelines",
	KindGetPipeline:           "get-pipeline",
	KindGetPipelineDefinition: "get-pipeline-definition",
	KindListReleases:          "list-releases",
	KindGetRelease:            "get-release",
	KindGetAgentSpecs:         "get-agent-specs",
	KindGetEnvironmentDetails: "get-environment-details",
	KindStartRelease:          "start-release",
	KindCancelRelease:         "cancel-release",
	KindApproveRelease:        "approve-release",
	KindUpdateAgentSpec:       "update-agent-spec",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// IsCommand reports whether the kind is fire-and-enqueue.
func (k Kind) IsCommand() bool {
	return k >= KindStartRelease
}

// Query variants.

type ListPipelines struct {
	Reply *Conduit[*devops.ReleasePipelinesResponse]
}

type GetPipeline struct {
	PipelineID int
	Reply      *Conduit[*devops.ReleasePipeline]
}

type GetPipelineDefinition struct {
	PipelineID int
	Reply      *Conduit[*devops.ReleasePipeline]
}

type ListReleases struct {
	PipelineID int
	Reply      *Conduit[*devops.ReleasesResponse]
}

type GetRelease struct {
	ReleaseID int
	Reply     *Conduit[*devops.Release]
}

type GetAgentSpecs struct {
	Reply *Conduit[[]devops.EnvironmentAgentInfo]
}

type GetEnvironmentDetails struct {
	PipelineID int
	ReleaseID  int
	Reply      *Conduit[*ReleaseEnvironmentDetails]
}

// Command variants.

type StartRelease struct {
	Request devops.StartReleaseRequest
}

type CancelRelease struct {
	Request devops.CancelReleaseRequest
}

type ApproveRelease struct {
	ApprovalID int
}

type UpdateAgentSpec struct {
	Request devops.UpdateAgentSpecRequest
}

// Message is one request to the worker. Exactly one variant field is set,
// and the message is not modified after it has been enqueued.
type Message struct {
	ID         string
	Seq        uint64
	EnqueuedAt time.Time

	ctx     context.Context
	release context.CancelFunc

	ListPipelines         *ListPipelines
	GetPipeline           *GetPipeline
	GetPipelineDefinition *GetPipelineDefinition
	ListReleases          *ListReleases
	GetRelease            *GetRelease
	GetAgentSpecs         *GetAgentSpecs
	GetEnvironmentDetails *GetEnvironmentDetails
	StartRelease          *StartRelease
	CancelRelease         *CancelRelease
	ApproveRelease        *ApproveRelease
	UpdateAgentSpec       *UpdateAgentSpec
}

// NewMessage binds a message to the context of the call that produced it.
// release, if not nil, is called once the worker is done with the message.
func NewMessage(ctx context.Context, release context.CancelFunc) *Message {
	return &Message{ctx: ctx, release: release}
}

// Context returns the message's cancellation context.
func (m *Message) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// Kind returns the variant, or KindUnknown unless exactly one is set.
func (m *Message) Kind() Kind {
	kind := KindUnknown
	set := 0
	mark := func(ok bool, k Kind) {
		if ok {
			kind = k
			set++
		}
	}
	mark(m.ListPipelines != nil, KindListPipelines)
	mark(m.GetPipeline != nil, KindGetPipeline)
	mark(m.GetPipelineDefinition != nil, KindGetPipelineDefinition)
	mark(m.ListReleases != nil, KindListReleases)
	mark(m.GetRelease != nil, KindGetRelease)
	mark(m.GetAgentSpecs != nil, KindGetAgentSpecs)
	mark(m.GetEnvironmentDetails != nil, KindGetEnvironmentDetails)
	mark(m.StartRelease != nil, KindStartRelease)
	mark(m.CancelRelease != nil, KindCancelRelease)
	mark(m.ApproveRelease != nil, KindApproveRelease)
	mark(m.UpdateAgentSpec != nil, KindUpdateAgentSpec)
	if set != 1 {
		return KindUnknown
	}
	return kind
}

// payload returns the command request for events.
func (m *Message) payload() any {
	switch {
	case m.StartRelease != nil:
		return m.StartRelease.Request
	case m.CancelRelease != nil:
		return m.CancelRelease.Request
	case m.ApproveRelease != nil:
		return map[string]int{"approvalId": m.ApproveRelease.ApprovalID}
	case m.UpdateAgentSpec != nil:
		return m.UpdateAgentSpec.Request
	}
	return nil
}

func (m *Message) done() {
	if m.release != nil {
		m.release()
	}
}

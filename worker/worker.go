// Package worker serializes every call to the release service through one
// goroutine. Callers talk to a Proxy, which turns each call into a Message on
// an unbounded Mailbox; the Worker drains the mailbox one message at a time
// and answers queries through per-call Conduits.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

// Backend is the release service as seen by the worker. Implementations need
// not be safe for concurrent use.
type Backend interface {
	ListPipelines(ctx context.Context) (*devops.ReleasePipelinesResponse, error)
	GetPipeline(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error)
	GetPipelineDefinition(ctx context.Context, pipelineID int) (*devops.ReleasePipeline, error)
	ListReleases(ctx context.Context, pipelineID int) (*devops.ReleasesResponse, error)
	GetRelease(ctx context.Context, releaseID int) (*devops.Release, error)
	AgentSpecifications(ctx context.Context) ([]devops.EnvironmentAgentInfo, error)
	StartRelease(ctx context.Context, req devops.StartReleaseRequest) error
	CancelRelease(ctx context.Context, req devops.CancelReleaseRequest) error
	ApproveRelease(ctx context.Context, approvalID int) error
	UpdateAgentSpecification(ctx context.Context, req devops.UpdateAgentSpecRequest) error
}

// Stopper stops the whole process. *lifetime.Lifetime implements it.
type Stopper interface {
	StopApplication(cause error)
}

// Publisher receives worker events. *bus.EventBus implements it.
type Publisher interface {
	Publish(ev *bus.Event) error
}

// State of a worker.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	if s == StateStopped {
		return "stopped"
	}
	return "running"
}

// Worker is the only caller of the Backend and the only writer of the
// environment cache.
type Worker struct {
	mailbox *Mailbox
	backend Backend
	cache   *EnvironmentCache
	stopper Stopper
	events  Publisher
	log     *logger.FieldLogger

	state    atomic.Int32
	runOnce  sync.Once
	done     chan struct{}
	mu       sync.Mutex
	fatalErr error
}

// New creates a worker. events may be nil.
func New(backend Backend, stopper Stopper, events Publisher) *Worker {
	return &Worker{
		mailbox: NewMailbox(),
		backend: backend,
		cache:   NewEnvironmentCache(),
		stopper: stopper,
		events:  events,
		log:     logger.Component("worker"),
		done:    make(chan struct{}),
	}
}

// Mailbox returns the worker's mailbox.
func (w *Worker) Mailbox() *Mailbox {
	return w.mailbox
}

// Cache returns the environment cache filled by release snapshots.
func (w *Worker) Cache() *EnvironmentCache {
	return w.cache
}

// State returns the current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Pending returns the number of queued messages.
func (w *Worker) Pending() int {
	return w.mailbox.Len()
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that stopped the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fatalErr
}

// Run processes messages until ctx ends or a message fails for a reason
// other than its own cancellation. In the latter case the process is asked
// to stop and the error is returned. Run may only be called once.
func (w *Worker) Run(ctx context.Context) error {
	started := false
	w.runOnce.Do(func() { started = true })
	if !started {
		return errors.New(errors.ErrCodeInvalidInput, "worker already ran")
	}

	defer close(w.done)
	defer w.shutdown()

	w.log.Info("Worker started")
	for {
		msg, err := w.mailbox.Receive(ctx)
		if err != nil {
			w.log.Info("Worker stopping", zap.Error(err))
			return nil
		}

		if err := w.process(ctx, msg); err != nil {
			w.mu.Lock()
			w.fatalErr = err
			w.mu.Unlock()

			w.log.Error("Message failed, stopping application",
				zap.String("message_id", msg.ID),
				zap.Uint64("seq", msg.Seq),
				zap.String("kind", msg.Kind().String()),
				zap.Error(err))
			w.publish(&bus.Event{
				Type:      bus.EventWorkerStopped,
				MessageID: msg.ID,
				Seq:       msg.Seq,
				Kind:      msg.Kind().String(),
				Error:     err.Error(),
			})
			w.stopper.StopApplication(err)
			return err
		}
	}
}

func (w *Worker) shutdown() {
	w.state.Store(int32(StateStopped))
	pending := w.mailbox.Close()
	for _, msg := range pending {
		msg.done()
	}
	if len(pending) > 0 {
		w.log.Info("Discarded queued messages", zap.Int("count", len(pending)))
	}
}

// process handles one message. A nil return keeps the worker running.
func (w *Worker) process(ctx context.Context, msg *Message) error {
	defer msg.done()

	msgCtx := msg.Context()
	fields := []zap.Field{
		zap.String("message_id", msg.ID),
		zap.Uint64("seq", msg.Seq),
		zap.String("kind", msg.Kind().String()),
	}

	if msgCtx.Err() != nil {
		w.log.Info("Message canceled before processing", fields...)
		w.publish(&bus.Event{Type: bus.EventMessageCanceled, MessageID: msg.ID, Seq: msg.Seq, Kind: msg.Kind().String()})
		return nil
	}
	if ctx.Err() != nil {
		w.log.Info("Message dropped, worker is stopping", fields...)
		return nil
	}

	callCtx, cancel := context.WithCancelCause(msgCtx)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	defer func() {
		stop()
		cancel(context.Canceled)
	}()

	start := time.Now()
	err := w.dispatch(callCtx, msg)
	elapsed := time.Since(start)

	if err == nil {
		w.log.Debug("Message processed", append(fields, zap.Duration("elapsed", elapsed))...)
		w.publish(&bus.Event{
			Type:       bus.EventMessageProcessed,
			MessageID:  msg.ID,
			Seq:        msg.Seq,
			Kind:       msg.Kind().String(),
			DurationMs: elapsed.Milliseconds(),
		})
		if msg.Kind().IsCommand() {
			w.executed(msg, elapsed)
		}
		return nil
	}

	if errors.IsCanceled(err) && msgCtx.Err() != nil {
		w.log.Info("Message was canceled by the caller", fields...)
		w.publish(&bus.Event{Type: bus.EventMessageCanceled, MessageID: msg.ID, Seq: msg.Seq, Kind: msg.Kind().String()})
		return nil
	}
	if errors.IsCanceled(err) && ctx.Err() != nil {
		w.log.Info("Message interrupted by worker shutdown", fields...)
		return nil
	}
	return err
}

func (w *Worker) dispatch(ctx context.Context, msg *Message) error {
	switch msg.Kind() {
	case KindListPipelines:
		v, err := w.backend.ListPipelines(ctx)
		if err != nil {
			return err
		}
		msg.ListPipelines.Reply.Send(v)

	case KindGetPipeline:
		v, err := w.backend.GetPipeline(ctx, msg.GetPipeline.PipelineID)
		if err != nil {
			return err
		}
		msg.GetPipeline.Reply.Send(v)

	case KindGetPipelineDefinition:
		v, err := w.backend.GetPipelineDefinition(ctx, msg.GetPipelineDefinition.PipelineID)
		if err != nil {
			return err
		}
		msg.GetPipelineDefinition.Reply.Send(v)

	case KindListReleases:
		v, err := w.backend.ListReleases(ctx, msg.ListReleases.PipelineID)
		if err != nil {
			return err
		}
		msg.ListReleases.Reply.Send(v)

	case KindGetRelease:
		v, err := w.backend.GetRelease(ctx, msg.GetRelease.ReleaseID)
		if err != nil {
			return err
		}
		msg.GetRelease.Reply.Send(v)

	case KindGetAgentSpecs:
		v, err := w.backend.AgentSpecifications(ctx)
		if err != nil {
			return err
		}
		msg.GetAgentSpecs.Reply.Send(v)

	case KindGetEnvironmentDetails:
		q := msg.GetEnvironmentDetails
		v, err := w.snapshot(ctx, q.PipelineID, q.ReleaseID)
		if err != nil {
			return err
		}
		q.Reply.Send(v)

	case KindStartRelease:
		return w.backend.StartRelease(ctx, msg.StartRelease.Request)

	case KindCancelRelease:
		return w.backend.CancelRelease(ctx, msg.CancelRelease.Request)

	case KindApproveRelease:
		return w.backend.ApproveRelease(ctx, msg.ApproveRelease.ApprovalID)

	case KindUpdateAgentSpec:
		return w.backend.UpdateAgentSpecification(ctx, msg.UpdateAgentSpec.Request)

	default:
		return errors.InvalidInput("message carries no variant")
	}
	return nil
}

func (w *Worker) executed(msg *Message, elapsed time.Duration) {
	w.log.Info("Command executed",
		zap.String("message_id", msg.ID),
		zap.String("kind", msg.Kind().String()),
		zap.Duration("elapsed", elapsed),
		zap.Any("request", msg.payload()))
	w.publish(&bus.Event{
		Type:       bus.EventCommandExecuted,
		MessageID:  msg.ID,
		Seq:        msg.Seq,
		Kind:       msg.Kind().String(),
		DurationMs: elapsed.Milliseconds(),
		Payload:    msg.payload(),
	})
}

// snapshot fetches a pipeline and one of its releases and refreshes the
// cache entry of every environment of the release.
func (w *Worker) snapshot(ctx context.Context, pipelineID, releaseID int) (*ReleaseEnvironmentDetails, error) {
	pipeline, err := w.backend.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	release, err := w.backend.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	result := &ReleaseEnvironmentDetails{Environments: make(map[int]EnvironmentDetails)}
	if pipeline == nil || release == nil {
		return result, nil
	}
	result.Release = release

	ids := make([]int, 0, len(release.Environments))
	for _, env := range release.Environments {
		details := BuildEnvironmentDetails(pipeline, env)
		result.Environments[env.ID] = details
		w.cache.Set(env.ID, details)
		ids = append(ids, env.ID)
	}

	w.publish(&bus.Event{
		Type:    bus.EventSnapshotRefreshed,
		Kind:    KindGetEnvironmentDetails.String(),
		Payload: map[string]any{"pipelineId": pipelineID, "releaseId": releaseID, "environmentIds": ids},
	})
	return result, nil
}

func (w *Worker) publish(ev *bus.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ev); err != nil {
		w.log.Debug("Event not published", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

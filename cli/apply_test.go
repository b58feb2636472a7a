package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/devops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `
starts:
  - release_id: 42
    environment_id: 7
    status: notStarted
  - release_id: 42
    environment_id: 8
    status: inProgress
    scheduled_time: 2026-06-01T09:30:00Z
cancels:
  - release_id: 41
    environment_id: 7
    comment: superseded
approvals: [100]
agent_specs:
  - pipeline_id: 3
    environment_id: 9
    new_agent_spec: windows-2022
`

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadPlan(t *testing.T) {
	p, err := LoadPlan(writePlan(t, samplePlan))
	require.NoError(t, err)

	assert.Equal(t, 5, p.Count())
	require.Len(t, p.Starts, 2)
	require.NotNil(t, p.Starts[1].ScheduledTime)
	assert.True(t, time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC).Equal(*p.Starts[1].ScheduledTime))
	assert.Equal(t, "superseded", p.Cancels[0].Comment)
	assert.Equal(t, []int{100}, p.Approvals)
	assert.Equal(t, "windows-2022", p.AgentSpecs[0].NewAgentSpec)
}

func TestLoadPlanRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":        "starts: []\n",
		"bad status":   "starts:\n  - release_id: 1\n    environment_id: 2\n    status: succeeded\n",
		"missing ids":  "cancels:\n  - comment: x\n",
		"bad approval": "approvals: [0]\n",
		"missing spec": "agent_specs:\n  - pipeline_id: 1\n    environment_id: 2\n",
		"not yaml":     "starts: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPlan(writePlan(t, body))
			assert.Error(t, err)
		})
	}
}

// eventingCommand publishes one command.executed event per enqueued
// command, standing in for a worker.
type eventingCommand struct {
	events *bus.EventBus
	failAt int
	n      int
}

func (c *eventingCommand) emit(kind string) {
	c.n++
	ev := &bus.Event{ID: kind, Type: bus.EventCommandExecuted, Kind: kind, Timestamp: time.Now()}
	if c.failAt > 0 && c.n == c.failAt {
		ev = &bus.Event{ID: "stop", Type: bus.EventWorkerStopped, Error: "status 500", Timestamp: time.Now()}
	}
	_ = c.events.Publish(ev)
}

func (c *eventingCommand) StartRelease(ctx context.Context, req devops.StartReleaseRequest) error {
	c.emit("start-release")
	return nil
}

func (c *eventingCommand) StartReleases(ctx context.Context, reqs []devops.StartReleaseRequest) error {
	for _, r := range reqs {
		_ = c.StartRelease(ctx, r)
	}
	return nil
}

func (c *eventingCommand) CancelRelease(ctx context.Context, req devops.CancelReleaseRequest) error {
	c.emit("cancel-release")
	return nil
}

func (c *eventingCommand) CancelReleases(ctx context.Context, reqs []devops.CancelReleaseRequest) error {
	for _, r := range reqs {
		_ = c.CancelRelease(ctx, r)
	}
	return nil
}

func (c *eventingCommand) ApproveRelease(ctx context.Context, id int) error {
	c.emit("approve-release")
	return nil
}

func (c *eventingCommand) ApproveReleases(ctx context.Context, ids []int) error {
	for _, id := range ids {
		_ = c.ApproveRelease(ctx, id)
	}
	return nil
}

func (c *eventingCommand) UpdateAgentSpecification(ctx context.Context, req devops.UpdateAgentSpecRequest) error {
	c.emit("update-agent-spec")
	return nil
}

func (c *eventingCommand) UpdateAgentSpecifications(ctx context.Context, reqs []devops.UpdateAgentSpecRequest) error {
	for _, r := range reqs {
		_ = c.UpdateAgentSpecification(ctx, r)
	}
	return nil
}

func TestApplyPlanWaitsForEveryCommand(t *testing.T) {
	p, err := LoadPlan(writePlan(t, samplePlan))
	require.NoError(t, err)

	events := bus.NewEventBus(16)
	defer events.Close()
	sub := events.Subscribe(16)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, applyPlan(ctx, &eventingCommand{events: events}, sub, p, &out))
	assert.Contains(t, out.String(), "[5/5] update-agent-spec done")
	assert.Contains(t, out.String(), "Applied 5 commands.")
}

func TestApplyPlanReportsWorkerStop(t *testing.T) {
	p, err := LoadPlan(writePlan(t, samplePlan))
	require.NoError(t, err)

	events := bus.NewEventBus(16)
	defer events.Close()
	sub := events.Subscribe(16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = applyPlan(ctx, &eventingCommand{events: events, failAt: 3}, sub, p, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 5 commands finished")
	assert.Contains(t, err.Error(), "status 500")
}

func TestApplyPlanTimesOut(t *testing.T) {
	p, err := LoadPlan(writePlan(t, samplePlan))
	require.NoError(t, err)

	events := bus.NewEventBus(16)
	defer events.Close()
	sub := events.Subscribe(16)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Events go to a bus nobody reads, so the wait runs out.
	silent := &eventingCommand{events: bus.NewEventBus(1)}
	defer silent.events.Close()
	err = applyPlan(ctx, silent, sub, p, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrintPlan(t *testing.T) {
	p, err := LoadPlan(writePlan(t, samplePlan))
	require.NoError(t, err)

	var out bytes.Buffer
	printPlan(&out, p)
	s := out.String()
	assert.Contains(t, s, "start   release 42 environment 7 (notStarted, now)")
	assert.Contains(t, s, "start   release 42 environment 8 (inProgress, 2026-06-01T09:30:00Z)")
	assert.Contains(t, s, "cancel  release 41 environment 7")
	assert.Contains(t, s, "approve approval 100")
	assert.Contains(t, s, "agent   pipeline 3 environment 9 -> windows-2022")
}

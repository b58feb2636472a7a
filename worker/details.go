package worker

import (
	"strconv"
	"time"

	"github.com/smallnest/releasedash/devops"
)

// NotAvailable is reported when an environment has no deployed release.
const NotAvailable = "N/A"

// Action is an operator action currently permitted on an environment.
type Action string

const (
	ActionRelease  Action = "release"
	ActionSchedule Action = "schedule"
	ActionApprove  Action = "approve"
	ActionCancel   Action = "cancel"
)

// EnvironmentDetails is the deployment state of one release environment.
// Values are replaced as a whole, never updated in place.
type EnvironmentDetails struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	Release       string           `json:"release"`
	Status        string           `json:"status"`
	Approval      *devops.Approval `json:"approval,omitempty"`
	ScheduledTime *time.Time       `json:"scheduledTime,omitempty"`
	Actions       []Action         `json:"actions"`
}

// ReleaseEnvironmentDetails is the result of a release snapshot. Release is
// nil when the pipeline or the release could not be found.
type ReleaseEnvironmentDetails struct {
	Release      *devops.Release            `json:"release"`
	Environments map[int]EnvironmentDetails `json:"environments"`
}

var queuedOnLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// BuildEnvironmentDetails joins one release environment with the pipeline's
// environment of the same name.
func BuildEnvironmentDetails(pipeline *devops.ReleasePipeline, env devops.ReleaseEnvironment) EnvironmentDetails {
	d := EnvironmentDetails{
		ID:      env.ID,
		Name:    env.Name,
		Release: NotAvailable,
		Status:  env.Status,
	}

	if pipeline != nil {
		for _, pe := range pipeline.Environments {
			if pe.Name != env.Name {
				continue
			}
			if pe.CurrentRelease != nil {
				d.Release = strconv.Itoa(pe.CurrentRelease.ID)
			}
			break
		}
	}

	if len(env.PreDeployApprovals) > 0 {
		approval := env.PreDeployApprovals[0]
		d.Approval = &approval
	}

	d.ScheduledTime = latestQueuedOn(env.DeploySteps)
	d.Actions = permittedActions(env, d.Approval)
	return d
}

// latestQueuedOn parses the queue time of the most recently queued step.
// Steps are ordered by their raw timestamp; an unparsable latest value
// yields no time.
func latestQueuedOn(steps []devops.DeployStep) *time.Time {
	latest := ""
	for _, step := range steps {
		if step.QueuedOn > latest {
			latest = step.QueuedOn
		}
	}
	t, ok := parseQueuedOn(latest)
	if !ok {
		return nil
	}
	return &t
}

func parseQueuedOn(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range queuedOnLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func permittedActions(env devops.ReleaseEnvironment, approval *devops.Approval) []Action {
	actions := []Action{}
	switch env.Status {
	case devops.EnvStatusNotStarted, devops.EnvStatusCanceled, devops.EnvStatusRejected,
		devops.EnvStatusPartiallySucceeded, devops.EnvStatusSucceeded:
		actions = append(actions, ActionRelease, ActionSchedule)
	case devops.EnvStatusInProgress, devops.EnvStatusQueued, devops.EnvStatusScheduled:
		if env.Status == devops.EnvStatusInProgress && !deploymentStarted(env.DeploySteps) {
			actions = append(actions, ActionSchedule)
		}
		actions = append(actions, ActionCancel)
	}
	if approval != nil && approval.Status == devops.ApprovalStatusPending {
		actions = append(actions, ActionApprove)
	}
	return actions
}

func deploymentStarted(steps []devops.DeployStep) bool {
	for _, step := range steps {
		if step.HasStarted {
			return true
		}
	}
	return false
}

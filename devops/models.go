package devops

import "time"

// Link is a HAL style link from the _links map.
type Link struct {
	Href string `json:"href"`
}

// Variable is a pipeline, environment or release variable.
type Variable struct {
	Value    *string `json:"value"`
	IsSecret bool    `json:"isSecret"`
}

// Release is a single release with its per-environment state.
type Release struct {
	ID           int                  `json:"id"`
	Name         string               `json:"name"`
	Status       string               `json:"status"`
	Environments []ReleaseEnvironment `json:"environments"`
	Variables    map[string]Variable  `json:"variables,omitempty"`
	Links        map[string]Link      `json:"_links,omitempty"`
}

// ReleaseEnvironment is one stage of a release.
type ReleaseEnvironment struct {
	ID                 int          `json:"id"`
	ReleaseID          int          `json:"releaseId"`
	Name               string       `json:"name"`
	Status             string       `json:"status"`
	PreDeployApprovals []Approval   `json:"preDeployApprovals"`
	DeploySteps        []DeployStep `json:"deploySteps"`
}

// Approval is a pre-deploy approval gate.
type Approval struct {
	ID           int    `json:"id"`
	ApprovalType string `json:"approvalType"`
	Status       string `json:"status"`
}

// DeployStep is one deployment attempt of a release environment.
type DeployStep struct {
	ID              int    `json:"id"`
	DeploymentID    int    `json:"deploymentId"`
	Attempt         int    `json:"attempt"`
	HasStarted      bool   `json:"hasStarted"`
	Reason          string `json:"reason"`
	Status          string `json:"status"`
	OperationStatus string `json:"operationStatus"`
	QueuedOn        string `json:"queuedOn"`
}

// ReleasePipeline is a release definition.
type ReleasePipeline struct {
	ID           int                   `json:"id"`
	Name         string                `json:"name"`
	Links        map[string]Link       `json:"_links,omitempty"`
	Environments []PipelineEnvironment `json:"environments"`
	Variables    map[string]Variable   `json:"variables,omitempty"`
}

// PipelineEnvironment is an environment of a release definition.
type PipelineEnvironment struct {
	ID             int                 `json:"id"`
	Name           string              `json:"name"`
	Variables      map[string]Variable `json:"variables,omitempty"`
	CurrentRelease *CurrentRelease     `json:"currentRelease"`
}

// CurrentRelease points at the release deployed to an environment.
type CurrentRelease struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// ReleasesResponse is the list releases envelope.
type ReleasesResponse struct {
	Count int              `json:"count"`
	Value []ReleaseSummary `json:"value"`
}

// ReleaseSummary is a release as returned by the list endpoint.
type ReleaseSummary struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	CreatedOn        time.Time       `json:"createdOn"`
	LogsContainerURL string          `json:"logsContainerUrl"`
	Links            map[string]Link `json:"_links,omitempty"`
}

// ReleasePipelinesResponse is the list definitions envelope.
type ReleasePipelinesResponse struct {
	Count int               `json:"count"`
	Value []PipelineSummary `json:"value"`
}

// PipelineSummary is a release definition as returned by the list endpoint.
type PipelineSummary struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	IsDeleted  bool            `json:"isDeleted"`
	IsDisabled bool            `json:"isDisabled"`
	Links      map[string]Link `json:"_links,omitempty"`
}

// EnvironmentAgentInfo summarizes the agent specification of one environment.
type EnvironmentAgentInfo struct {
	PipelineID       int    `json:"pipelineId"`
	PipelineName     string `json:"pipelineName"`
	EnvironmentID    int    `json:"environmentId"`
	EnvironmentName  string `json:"environmentName"`
	CurrentAgentSpec string `json:"currentAgentSpec"`
	CanUpdate        bool   `json:"canUpdate"`
}

// StartReleaseRequest starts or schedules a release environment. Status is
// the environment's current status and selects the transition.
type StartReleaseRequest struct {
	ReleaseID     int        `json:"releaseId" yaml:"release_id"`
	EnvironmentID int        `json:"environmentId" yaml:"environment_id"`
	Status        string     `json:"status" yaml:"status"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty" yaml:"scheduled_time,omitempty"`
}

// CancelReleaseRequest cancels a release environment.
type CancelReleaseRequest struct {
	ReleaseID     int    `json:"releaseId" yaml:"release_id"`
	EnvironmentID int    `json:"environmentId" yaml:"environment_id"`
	Comment       string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// UpdateAgentSpecRequest rewrites the agent specification of one environment.
type UpdateAgentSpecRequest struct {
	PipelineID    int    `json:"pipelineId" yaml:"pipeline_id"`
	EnvironmentID int    `json:"environmentId" yaml:"environment_id"`
	NewAgentSpec  string `json:"newAgentSpec" yaml:"new_agent_spec"`
}

type patchReleaseEnvironmentRequest struct {
	Status                  string `json:"status,omitempty"`
	ScheduledDeploymentTime string `json:"scheduledDeploymentTime,omitempty"`
	Comment                 string `json:"comment,omitempty"`
}

type patchApprovalRequest struct {
	Status   string `json:"status"`
	Comments string `json:"comments"`
}

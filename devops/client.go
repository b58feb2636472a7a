// Package devops is the HTTP client for the Azure DevOps release management
// API. A Client is not meant to be shared between goroutines that issue
// commands concurrently; the worker package serializes all calls.
package devops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultScheduleDelay = 5 * time.Minute
	maxErrorBody         = 512

	// ScheduleTimeLayout is the UTC layout the service expects for
	// scheduledDeploymentTime.
	ScheduleTimeLayout = "2006-01-02T15:04:05Z"

	approvalComment = "Approved via Azure API"
)

// Options configures a Client.
type Options struct {
	Organization string
	Project      string
	// PAT is sent as is after "Basic ", so it must already be the base64
	// encoding of "user:token".
	PAT string
	// BearerToken switches authentication to an OAuth2 bearer transport.
	BearerToken string
	// BaseURL overrides https://vsrm.dev.azure.com/{organization}/{project}/.
	BaseURL string

	APIVersion              string
	APIVersionPatchRelease  string
	APIVersionPatchApproval string

	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client talks to the release management API.
type Client struct {
	baseURL                 *url.URL
	basicAuth               string
	httpClient              *http.Client
	apiVersion              string
	apiVersionPatchRelease  string
	apiVersionPatchApproval string
	now                     func() time.Time
	log                     *logger.FieldLogger
}

// NewClient creates a client from options, filling in defaults.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		if opts.Organization == "" || opts.Project == "" {
			return nil, errors.InvalidConfig("organization and project are required")
		}
		base = fmt.Sprintf("https://vsrm.dev.azure.com/%s/%s/",
			url.PathEscape(opts.Organization), url.PathEscape(opts.Project))
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid base url")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:                 u,
		httpClient:              httpClient,
		apiVersion:              strings.TrimSpace(opts.APIVersion),
		apiVersionPatchRelease:  strings.TrimSpace(opts.APIVersionPatchRelease),
		apiVersionPatchApproval: strings.TrimSpace(opts.APIVersionPatchApproval),
		now:                     opts.Now,
		log:                     logger.Component("devops"),
	}
	if c.now == nil {
		c.now = time.Now
	}

	if opts.BearerToken != "" {
		transport := httpClient.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		wrapped := *httpClient
		wrapped.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
		c.httpClient = &wrapped
	} else if opts.PAT != "" {
		c.basicAuth = "Basic " + opts.PAT
	}

	return c, nil
}

// ListPipelines lists the release definitions of the project.
func (c *Client) ListPipelines(ctx context.Context) (*ReleasePipelinesResponse, error) {
	var out ReleasePipelinesResponse
	if err := c.getJSON(ctx, "list pipelines", "_apis/release/definitions", nil, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		out.Value = []PipelineSummary{}
	}
	return &out, nil
}

// GetPipeline fetches one release definition. A null body yields nil.
func (c *Client) GetPipeline(ctx context.Context, pipelineID int) (*ReleasePipeline, error) {
	var out *ReleasePipeline
	path := "_apis/release/definitions/" + strconv.Itoa(pipelineID)
	if err := c.getJSON(ctx, "get pipeline", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPipelineDefinition fetches one release definition with its
// environments expanded.
func (c *Client) GetPipelineDefinition(ctx context.Context, pipelineID int) (*ReleasePipeline, error) {
	raw, err := c.definitionDocument(ctx, "get pipeline definition", pipelineID)
	if err != nil {
		return nil, err
	}
	var out *ReleasePipeline
	if err := decode("get pipeline definition", raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListReleases lists the releases of one release definition.
func (c *Client) ListReleases(ctx context.Context, pipelineID int) (*ReleasesResponse, error) {
	var out ReleasesResponse
	query := url.Values{"definitionId": {strconv.Itoa(pipelineID)}}
	if err := c.getJSON(ctx, "list releases", "_apis/release/releases", query, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		out.Value = []ReleaseSummary{}
	}
	return &out, nil
}

// GetRelease fetches one release. A null body yields nil.
func (c *Client) GetRelease(ctx context.Context, releaseID int) (*Release, error) {
	var out *Release
	path := "_apis/release/releases/" + strconv.Itoa(releaseID)
	if err := c.getJSON(ctx, "get release", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentSpecifications derives the agent specification of every environment
// of every active release definition. A definition that cannot be fetched or
// parsed is logged and skipped.
func (c *Client) AgentSpecifications(ctx context.Context) ([]EnvironmentAgentInfo, error) {
	pipelines, err := c.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]EnvironmentAgentInfo, 0)
	for _, p := range pipelines.Value {
		if p.IsDeleted || p.IsDisabled {
			continue
		}
		raw, err := c.definitionDocument(ctx, "get pipeline definition", p.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.log.Warn("Failed to get pipeline definition, skipping",
				zap.Int("pipeline_id", p.ID),
				zap.Error(err))
			continue
		}
		if !json.Valid(raw) {
			c.log.Warn("Pipeline definition is not valid JSON, skipping",
				zap.Int("pipeline_id", p.ID))
			continue
		}
		infos = append(infos, ExtractAgentInfos(p.ID, p.Name, raw)...)
	}
	return infos, nil
}

// ValidateStartRequest reports whether a start request maps to a supported
// transition.
func ValidateStartRequest(req StartReleaseRequest) error {
	switch req.Status {
	case EnvStatusNotStarted, EnvStatusInProgress:
		return nil
	}
	return errors.New(errors.ErrCodeUnsupported,
		fmt.Sprintf("start from status %q is not supported", req.Status))
}

func (c *Client) startReleasePatch(req StartReleaseRequest) (patchReleaseEnvironmentRequest, error) {
	if err := ValidateStartRequest(req); err != nil {
		return patchReleaseEnvironmentRequest{}, err
	}
	if req.Status == EnvStatusNotStarted {
		return patchReleaseEnvironmentRequest{Status: EnvStatusInProgress}, nil
	}
	at := c.now().Add(defaultScheduleDelay)
	if req.ScheduledTime != nil {
		at = *req.ScheduledTime
	}
	return patchReleaseEnvironmentRequest{ScheduledDeploymentTime: at.UTC().Format(ScheduleTimeLayout)}, nil
}

// StartRelease starts a not yet started environment, or schedules an
// environment that is waiting. Without a scheduled time the deployment is
// scheduled five minutes from now.
func (c *Client) StartRelease(ctx context.Context, req StartReleaseRequest) error {
	body, err := c.startReleasePatch(req)
	if err != nil {
		return err
	}
	return c.patchReleaseEnvironment(ctx, "start release", req.ReleaseID, req.EnvironmentID, body)
}

// CancelRelease cancels a release environment.
func (c *Client) CancelRelease(ctx context.Context, req CancelReleaseRequest) error {
	body := patchReleaseEnvironmentRequest{Status: EnvStatusCanceled, Comment: req.Comment}
	return c.patchReleaseEnvironment(ctx, "cancel release", req.ReleaseID, req.EnvironmentID, body)
}

func (c *Client) patchReleaseEnvironment(ctx context.Context, op string, releaseID, environmentID int, body patchReleaseEnvironmentRequest) error {
	path := fmt.Sprintf("_apis/release/releases/%d/environments/%d", releaseID, environmentID)
	_, err := c.do(ctx, op, http.MethodPatch, path, nil, c.apiVersionPatchRelease, body)
	return err
}

// ApproveRelease approves a pending approval.
func (c *Client) ApproveRelease(ctx context.Context, approvalID int) error {
	body := patchApprovalRequest{Status: ApprovalStatusApproved, Comments: approvalComment}
	path := "_apis/release/approvals/" + strconv.Itoa(approvalID)
	_, err := c.do(ctx, "approve release", http.MethodPatch, path, nil, c.apiVersionPatchApproval, body)
	return err
}

// UpdateAgentSpecification rewrites the agent specification of one
// environment and stores the definition back.
func (c *Client) UpdateAgentSpecification(ctx context.Context, req UpdateAgentSpecRequest) error {
	raw, err := c.definitionDocument(ctx, "update agent specification", req.PipelineID)
	if err != nil {
		return err
	}
	if !json.Valid(raw) {
		return errors.BackendDecode("update agent specification", fmt.Errorf("definition %d is not valid JSON", req.PipelineID))
	}

	patched, found, err := PatchAgentSpecification(raw, req.EnvironmentID, req.NewAgentSpec)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBackendDecode, "patch agent specification")
	}
	if !found {
		c.log.Warn("Environment not found in definition, nothing to update",
			zap.Int("pipeline_id", req.PipelineID),
			zap.Int("environment_id", req.EnvironmentID))
		return nil
	}

	path := "_apis/release/definitions/" + strconv.Itoa(req.PipelineID)
	if _, err := c.do(ctx, "update agent specification", http.MethodPut, path, nil, c.apiVersion, json.RawMessage(patched)); err != nil {
		return err
	}

	c.log.Info("Updated agent specification",
		zap.Int("pipeline_id", req.PipelineID),
		zap.Int("environment_id", req.EnvironmentID),
		zap.String("agent_spec", req.NewAgentSpec))
	return nil
}

func (c *Client) definitionDocument(ctx context.Context, op string, pipelineID int) ([]byte, error) {
	query := url.Values{"$expand": {"environments"}}
	path := "_apis/release/definitions/" + strconv.Itoa(pipelineID)
	return c.do(ctx, op, http.MethodGet, path, query, c.apiVersion, nil)
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	raw, err := c.do(ctx, op, http.MethodGet, path, query, c.apiVersion, nil)
	if err != nil {
		return err
	}
	return decode(op, raw, out)
}

func decode(op string, raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.BackendDecode(op, err)
	}
	return nil
}

// do sends one request and returns the response body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, apiVersion string, body any) ([]byte, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if apiVersion != "" {
		q.Set("api-version", apiVersion)
	}
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, op+": encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.BackendFailed(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.basicAuth != "" {
		req.Header.Set("Authorization", c.basicAuth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Canceled(op, err)
		}
		c.log.Error("Request failed", zap.String("op", op), zap.Error(err))
		return nil, errors.BackendFailed(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Canceled(op, err)
		}
		return nil, errors.BackendFailed(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		c.log.Error("Unexpected status from release service",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, errors.BackendStatus(op, resp.StatusCode, snippet)
	}
	return data, nil
}

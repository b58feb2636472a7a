package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/internal/lifetime"
	"github.com/smallnest/releasedash/worker"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Plan is a batch of commands read from a YAML file.
type Plan struct {
	Starts     []devops.StartReleaseRequest    `yaml:"starts"`
	Cancels    []devops.CancelReleaseRequest   `yaml:"cancels"`
	Approvals  []int                           `yaml:"approvals"`
	AgentSpecs []devops.UpdateAgentSpecRequest `yaml:"agent_specs"`
}

// Count returns the number of commands in the plan.
func (p *Plan) Count() int {
	return len(p.Starts) + len(p.Cancels) + len(p.Approvals) + len(p.AgentSpecs)
}

// Validate rejects commands the release service would refuse.
func (p *Plan) Validate() error {
	if p.Count() == 0 {
		return fmt.Errorf("plan is empty")
	}
	for i, s := range p.Starts {
		if s.ReleaseID <= 0 || s.EnvironmentID <= 0 {
			return fmt.Errorf("starts[%d]: release_id and environment_id are required", i)
		}
		if err := devops.ValidateStartRequest(s); err != nil {
			return fmt.Errorf("starts[%d]: %w", i, err)
		}
	}
	for i, c := range p.Cancels {
		if c.ReleaseID <= 0 || c.EnvironmentID <= 0 {
			return fmt.Errorf("cancels[%d]: release_id and environment_id are required", i)
		}
	}
	for i, id := range p.Approvals {
		if id <= 0 {
			return fmt.Errorf("approvals[%d]: invalid approval id %d", i, id)
		}
	}
	for i, u := range p.AgentSpecs {
		if u.PipelineID <= 0 || u.EnvironmentID <= 0 || u.NewAgentSpec == "" {
			return fmt.Errorf("agent_specs[%d]: pipeline_id, environment_id and new_agent_spec are required", i)
		}
	}
	return nil
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var (
	applyFile    string
	applyYes     bool
	applyTimeout time.Duration
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a YAML plan of release commands",
	Long: `apply reads a plan of starts, cancels, approvals and agent_specs updates,
asks for confirmation, sends them in order and waits for each to finish.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Plan file (YAML)")
	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "Skip the confirmation prompt")
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 5*time.Minute, "Maximum time to wait for the plan")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	plan, err := LoadPlan(applyFile)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printPlan(out, plan)

	if !applyYes {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Apply %d commands", plan.Count()),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	client, err := newDevopsClient(cfg)
	if err != nil {
		return err
	}

	lt := lifetime.New()
	events := bus.NewEventBus(eventBufferSize)
	defer events.Close()
	w := worker.New(client, lt, events)
	proxy := worker.NewProxy(w, lt)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(runCtx) }()
	defer func() {
		cancel()
		<-w.Done()
		lt.NotifyStopped()
	}()

	ctx, cancelWait := context.WithTimeout(cmd.Context(), applyTimeout)
	defer cancelWait()

	sub := events.Subscribe(eventBufferSize)
	defer sub.Unsubscribe()
	return applyPlan(ctx, proxy, sub, plan, out)
}

// applyPlan enqueues every command of plan and waits for the matching
// command.executed events. The worker stops at the first failure, which
// arrives as worker.stopped.
func applyPlan(ctx context.Context, cmd worker.Command, sub *bus.Subscription, plan *Plan, out io.Writer) error {
	enqueueCtx := context.WithoutCancel(ctx)
	if err := cmd.StartReleases(enqueueCtx, plan.Starts); err != nil {
		return err
	}
	if err := cmd.CancelReleases(enqueueCtx, plan.Cancels); err != nil {
		return err
	}
	if err := cmd.ApproveReleases(enqueueCtx, plan.Approvals); err != nil {
		return err
	}
	if err := cmd.UpdateAgentSpecifications(enqueueCtx, plan.AgentSpecs); err != nil {
		return err
	}

	want := plan.Count()
	done := 0
	for done < want {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d commands finished: %w", done, want, ctx.Err())
		case ev, ok := <-sub.C:
			if !ok {
				return fmt.Errorf("%d of %d commands finished: event stream closed", done, want)
			}
			switch ev.Type {
			case bus.EventCommandExecuted:
				done++
				fmt.Fprintf(out, "[%d/%d] %s done (%dms)\n", done, want, ev.Kind, ev.DurationMs)
			case bus.EventWorkerStopped:
				return fmt.Errorf("%d of %d commands finished: %s", done, want, ev.Error)
			}
		}
	}
	fmt.Fprintf(out, "Applied %d commands.\n", want)
	return nil
}

func printPlan(out io.Writer, p *Plan) {
	fmt.Fprintln(out, "Plan:")
	for _, s := range p.Starts {
		when := "now"
		if s.ScheduledTime != nil {
			when = s.ScheduledTime.UTC().Format(time.RFC3339)
		} else if s.Status == devops.EnvStatusInProgress {
			when = "in 5 minutes"
		}
		fmt.Fprintf(out, "  start   release %d environment %d (%s, %s)\n", s.ReleaseID, s.EnvironmentID, s.Status, when)
	}
	for _, c := range p.Cancels {
		fmt.Fprintf(out, "  cancel  release %d environment %d\n", c.ReleaseID, c.EnvironmentID)
	}
	for _, id := range p.Approvals {
		fmt.Fprintf(out, "  approve approval %d\n", id)
	}
	for _, u := range p.AgentSpecs {
		fmt.Fprintf(out, "  agent   pipeline %d environment %d -> %s\n", u.PipelineID, u.EnvironmentID, u.NewAgentSpec)
	}
}

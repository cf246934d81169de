package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hearth/internal/fold"
	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/task"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show pending tasks in queue order",
		Long: `Show every pending task in the local queue, oldest first.

Example:
  hearth list --db ./hearth.db
  hearth list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Preview what the next flush would send",
		Long: `Fold the pending queue and print the resulting tasks without sending
anything. Each line lists the queue entries the task replaces.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, cmd)
		},
	}
}

// taskList renders one task per line in text output.
type taskList []task.Task

func (l taskList) String() string {
	if len(l) == 0 {
		return "queue empty"
	}
	var b strings.Builder
	for i, t := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s at=%d payload=%s", t.String(), t.EnqueuedAt, payload.MustCanonical(t.Payload))
	}
	return b.String()
}

type listResult struct {
	Count int      `json:"count"`
	Tasks taskList `json:"tasks"`
}

func (r listResult) String() string {
	return r.Tasks.String()
}

type planResult struct {
	Stats fold.Stats `json:"stats"`
	Tasks fold.Plan  `json:"tasks"`
}

func (r planResult) String() string {
	if len(r.Tasks) == 0 {
		return "nothing to sync"
	}
	return fmt.Sprintf("%s%d queued -> %d to send (%d coalesced, %d dropped)",
		r.Tasks.String(), r.Stats.Input, r.Stats.Output, r.Stats.Coalesced, r.Stats.Dropped)
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	setupLogging(cfg.Log, cmd.ErrOrStderr())

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open queue", err)
	}
	defer closeStore()

	tasks, err := newEngine(st, nil, cfg).Pending(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to read queue", err)
	}
	return formatter.Success(listResult{Count: len(tasks), Tasks: tasks})
}

func runPlan(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	setupLogging(cfg.Log, cmd.ErrOrStderr())

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open queue", err)
	}
	defer closeStore()

	plan, err := newEngine(st, nil, cfg).Plan(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to read queue", err)
	}
	if plan == nil {
		plan = fold.Plan{}
	}
	return formatter.Success(planResult{Stats: plan.Stats(), Tasks: plan})
}

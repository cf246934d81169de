package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hearth/internal/engine"
	"github.com/roach88/hearth/internal/executor"
)

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Run one sync cycle now",
		Long: `Fold the pending queue and replay it into the configured remote, in order,
stopping at the first failure. Tasks that were not sent stay queued.

Exit status is 1 when the cycle halted.

Example:
  hearth flush --config hearth.yaml
  hearth flush --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(rootOpts, cmd)
		},
	}
}

// reportView is the CLI rendering of an engine.Report.
type reportView struct {
	engine.Report
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

func (v reportView) String() string {
	s := fmt.Sprintf("cycle %s: %d sent, %d skipped as stale, %d queue entries removed",
		v.Cycle, v.Succeeded, v.Skipped, v.Removed)
	if v.Stats.Coalesced > 0 {
		s += fmt.Sprintf(" (%d coalesced)", v.Stats.Coalesced)
	}
	if v.Error != "" {
		s += fmt.Sprintf("\nhalted: %s (%d remaining)", v.Error, v.Remaining)
	}
	return s
}

func newReportView(rep engine.Report) reportView {
	v := reportView{Report: rep, Remaining: rep.Remaining()}
	if rep.Err != nil {
		v.Error = rep.Err.Error()
	}
	return v
}

func runFlush(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

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

	conn, err := openRemote(ctx, cfg.Remote)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRemote, "failed to connect to remote", err)
	}
	defer conn.close()

	eng := newEngine(st, conn, cfg)
	unsubscribe := eng.Subscribe(engine.ObserverFunc(func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventTaskOK:
			formatter.VerboseLog("%s %s (replaces %v)", ev.Outcome, ev.Task.String(), ev.Replaces)
		case engine.EventTaskError:
			formatter.VerboseLog("failed %s: %v", ev.Task.String(), ev.Err)
		}
	}))
	defer unsubscribe()

	rep, err := eng.Flush(ctx)
	view := newReportView(rep)
	if err != nil {
		_ = formatter.Error(ErrCodeSync, "sync halted", view)
		if executor.IsRemoteRejected(err) {
			formatter.VerboseLog("remote refused the task; it stays at the head of the queue")
		}
		return WrapExitError(ExitFailure, "sync halted", err)
	}
	return formatter.Success(view)
}

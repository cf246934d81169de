package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/task"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Scope   string
	Entity  string
	Payload string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <operation>",
		Short: "Append a task to the local queue",
		Long: `Append a task to the durable local queue. The task is stamped with the
current time and replayed on the next flush.

Operations: create_entity, update_entity, delete_entity, set_singleton_field,
remove_member, bulk_status_transition, mark_child_received.

Example:
  hearth enqueue create_entity --scope h1 --entity d1 --payload '{"name":"Milk"}'
  hearth enqueue set_singleton_field --scope h1 --payload '{"field":"name","value":"Home"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, task.Operation(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope ID (required)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity ID (generated for create_entity when empty)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "task payload as a JSON object")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, op task.Operation, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	obj, err := payload.Decode([]byte(opts.Payload))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid, "invalid --payload JSON", err)
	}

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

	d := task.Draft{Op: op, ScopeID: opts.Scope, EntityID: opts.Entity, Payload: obj}
	t, err := newEngine(st, nil, cfg).Enqueue(cmd.Context(), d)
	if err != nil {
		if errors.Is(err, task.ErrInvalid) {
			return formatter.Fail(ExitCommandError, ErrCodeInvalid, "invalid task", err)
		}
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to enqueue", err)
	}

	formatter.VerboseLog("queued %s at %d", t.String(), t.EnqueuedAt)
	return formatter.Success(t)
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tafkit/internal/encodequeue"
	"tafkit/internal/events"
	"tafkit/internal/workspace"
)

const followPollInterval = 250 * time.Millisecond

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage server-side encode queues",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCreateCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueAddSourcesCommand(ctx))
	queueCmd.AddCommand(newQueueStartCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))

	return queueCmd
}

// resolveQueue refreshes the queue list and matches ref against queue IDs,
// then unique queue names.
func resolveQueue(cmd *cobra.Command, ws *workspace.Workspace, ref string) (encodequeue.Queue, error) {
	if err := ws.Queues().Refresh(cmd.Context()); err != nil {
		return encodequeue.Queue{}, err
	}
	ref = strings.TrimSpace(ref)
	queues := ws.Queues().Queues()
	var byName []encodequeue.Queue
	for _, q := range queues {
		if q.ID == ref {
			return q, nil
		}
		if q.Name == ref {
			byName = append(byName, q)
		}
	}
	switch len(byName) {
	case 0:
		return encodequeue.Queue{}, fmt.Errorf("no queue matches %q", ref)
	case 1:
		return byName[0], nil
	default:
		return encodequeue.Queue{}, fmt.Errorf("%d queues are named %q; use the queue ID", len(byName), ref)
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List encode queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspaceOptions(cmd, workspace.Options{ReadOnly: true}, func(ws *workspace.Workspace) error {
				if err := ws.Queues().Refresh(cmd.Context()); err != nil {
					return err
				}
				queues := ws.Queues().Queues()
				if asJSON {
					return writeJSON(cmd, queues)
				}
				out := cmd.OutOrStdout()
				if len(queues) == 0 {
					fmt.Fprintln(out, "No encode queues")
					return nil
				}
				rows := make([][]string, 0, len(queues))
				for _, q := range queues {
					rows = append(rows, []string{q.ID, q.Name, strconv.Itoa(len(q.Items)), yesNo(q.Active)})
				}
				fmt.Fprint(out, renderTable(
					[]column{col("ID"), col("Name"), num("Items"), col("Active")},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the queues as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <queue>",
		Short: "Show the entries of one queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspaceOptions(cmd, workspace.Options{ReadOnly: true}, func(ws *workspace.Workspace) error {
				q, err := resolveQueue(cmd, ws, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queue %s (%s), active: %s\n", q.Name, q.ID, yesNo(q.Active))
				if len(q.Items) == 0 {
					fmt.Fprintln(out, "No entries")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{num("Index"), col("File"), col("State")},
					buildQueueItemRows(q, ws.Queues().ItemStates(q.ID)),
				))
				return nil
			})
		},
	}
}

func buildQueueItemRows(q encodequeue.Queue, states map[int]encodequeue.ItemState) [][]string {
	rows := make([][]string, 0, len(q.Items))
	for i, item := range q.Items {
		rows = append(rows, []string{strconv.Itoa(i), item, describeItemState(states, i)})
	}
	return rows
}

func describeItemState(states map[int]encodequeue.ItemState, idx int) string {
	state, ok := states[idx]
	if !ok {
		return "-"
	}
	if state.Status == encodequeue.ItemError && state.Error != "" {
		return string(state.Status) + ": " + state.Error
	}
	return string(state.Status)
}

func newQueueCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an encode queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspaceOptions(cmd, workspace.Options{ReadOnly: true}, func(ws *workspace.Workspace) error {
				id, err := ws.Queues().Create(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created queue %s (%s)\n", strings.TrimSpace(args[0]), id)
				return nil
			})
		},
	}
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <queue> <server-path>...",
		Short: "Append server files to an idle queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspaceOptions(cmd, workspace.Options{ReadOnly: true}, func(ws *workspace.Workspace) error {
				q, err := resolveQueue(cmd, ws, args[0])
				if err != nil {
					return err
				}
				for _, p := range args[1:] {
					if err := ws.Queues().AddItem(cmd.Context(), q.ID, strings.TrimPrefix(strings.TrimSpace(p), "/")); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", plural(len(args)-1, "file"), q.Name)
				return nil
			})
		},
	}
}

func newQueueAddSourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add-sources <queue>",
		Short: "Append the server-resident sources to an idle queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				q, err := resolveQueue(cmd, ws, args[0])
				if err != nil {
					return err
				}
				added, skipped, err := ws.EnqueueRegistry(cmd.Context(), q.ID)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added %s to %s\n", plural(added, "source"), q.Name)
				if skipped > 0 {
					fmt.Fprintf(out, "Skipped %s; upload them with encode first\n", plural(skipped, "local source"))
				}
				return err
			})
		},
	}
}

func newQueueStartCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "start <queue>",
		Short: "Start processing an idle queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// event lines arrive on the dispatcher goroutine
			out := &lockedWriter{w: cmd.OutOrStdout()}
			opts := workspace.Options{ReadOnly: true}
			if follow {
				opts.OnEvent = func(e events.Event) {
					if qe, ok := e.(events.EncodeQueueProgress); ok {
						fmt.Fprintln(out, formatEvent(qe))
					}
				}
			}
			return ctx.withWorkspaceOptions(cmd, opts, func(ws *workspace.Workspace) error {
				q, err := resolveQueue(cmd, ws, args[0])
				if err != nil {
					return err
				}
				if follow {
					if err := ws.Listen(cmd.Context()); err != nil {
						return err
					}
				}
				if err := ws.Queues().Start(cmd.Context(), q.ID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Started %s\n", q.Name)
				if !follow {
					return nil
				}
				return followQueue(cmd, out, ws, q.ID)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Wait for every entry to finish")
	return cmd
}

// followQueue blocks until every entry reached a terminal state or the server
// reports the queue idle again.
func followQueue(cmd *cobra.Command, out io.Writer, ws *workspace.Workspace, queueID string) error {
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
		q, ok := ws.Queues().Queue(queueID)
		if !ok {
			return fmt.Errorf("queue %s disappeared", queueID)
		}
		states := ws.Queues().ItemStates(queueID)
		if !q.Active || allItemsTerminal(q, states) {
			return summarizeQueue(out, q, states)
		}
	}
}

func allItemsTerminal(q encodequeue.Queue, states map[int]encodequeue.ItemState) bool {
	for i := range q.Items {
		s := states[i].Status
		if s != encodequeue.ItemComplete && s != encodequeue.ItemError {
			return false
		}
	}
	return true
}

func summarizeQueue(out io.Writer, q encodequeue.Queue, states map[int]encodequeue.ItemState) error {
	var done, failed int
	for i := range q.Items {
		switch states[i].Status {
		case encodequeue.ItemComplete:
			done++
		case encodequeue.ItemError:
			failed++
		}
	}
	summary := fmt.Sprintf("Queue %s finished: %d done, %d failed", q.Name, done, failed)
	if unknown := len(q.Items) - done - failed; unknown > 0 {
		summary += fmt.Sprintf(", %d without a result", unknown)
	}
	fmt.Fprintln(out, summary)
	if failed > 0 {
		return fmt.Errorf("%s failed", plural(failed, "queue entry"))
	}
	return nil
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:     "remove <queue>",
		Aliases: []string{"rm"},
		Short:   "Delete a queue, or one entry with --index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspaceOptions(cmd, workspace.Options{ReadOnly: true}, func(ws *workspace.Workspace) error {
				q, err := resolveQueue(cmd, ws, args[0])
				if err != nil {
					return err
				}
				var target *int
				if cmd.Flags().Changed("index") {
					target = &index
				}
				if err := ws.Queues().Remove(cmd.Context(), q.ID, target); err != nil {
					return err
				}
				if target == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed queue %s\n", q.Name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed entry %d from %s\n", index, q.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "0-based entry to remove instead of the whole queue")
	return cmd
}

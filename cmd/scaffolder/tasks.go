package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
)

func newDispatchCommand(a *app) *cobra.Command {
	var (
		file    string
		wait    bool
		timeout time.Duration
		secrets map[string]string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a task from a YAML or JSON spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading spec: %w", err)
			}

			spec, err := core.ParseTaskSpec(data)
			if err != nil {
				return err
			}

			return withBroker(a, func(b *broker.Broker) error {
				ctx := cmd.Context()

				r, err := b.Dispatch(ctx, spec, broker.WithSecrets(secrets))
				if err != nil {
					return err
				}

				if !wait {
					return printJSON(cmd, r)
				}

				if _, err := b.WaitForTask(ctx, r.TaskID, timeout); err != nil {
					return fmt.Errorf("waiting for task %s: %w", r.TaskID, err)
				}

				s, err := b.Get(ctx, r.TaskID)
				if err != nil {
					return err
				}

				return printJSON(cmd, s)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "task spec file")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the task to finish and print its events")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the task")
	cmd.Flags().StringToStringVar(&secrets, "secret", nil, "secrets passed to actions, key=value")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	var after int64

	cmd := &cobra.Command{
		Use:   "status <taskID>",
		Short: "Print a task and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(a, func(b *broker.Broker) error {
				ctx := cmd.Context()

				if !cmd.Flags().Changed("after") {
					s, err := b.Get(ctx, args[0])
					if err != nil {
						return err
					}

					return printJSON(cmd, s)
				}

				events, err := b.ListEvents(ctx, args[0], &after)
				if err != nil {
					return err
				}

				return printJSON(cmd, events)
			})
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "only print events after the given event id")

	return cmd
}

func newCancelCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <taskID>",
		Short: "Cancel an open or processing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(a, func(b *broker.Broker) error {
				if err := b.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", args[0])

				return nil
			})
		},
	}
}

func withBroker(a *app, f func(b *broker.Broker) error) error {
	b, err := openBackend(a.cfg.Store, backend.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer b.Close()

	return f(broker.New(b))
}


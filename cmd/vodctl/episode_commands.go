package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hszk-dev/vodforge/internal/api/handler"
	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/infrastructure/events"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "submit <episode-id> <source-path>",
		Short: "Submit an uploaded source file for transcoding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if priority < 0 || priority > model.MaxPriority {
				return fmt.Errorf("priority must be between 0 and %d", model.MaxPriority)
			}

			resp, err := ctx.client().Submit(cmd.Context(), handler.SubmitJobRequest{
				EpisodeID:  args[0],
				SourcePath: args[1],
				Priority:   priority,
			})
			if err != nil {
				return err
			}

			if !ctx.wantsTable(cmd) {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s for episode %s\n", resp.JobID, resp.EpisodeID)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "Job priority; higher runs first (default 1)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <episode-id>",
		Short: "Cancel an episode's processing and delete its outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !ctx.wantsTable(cmd) {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelling episode %s\n", resp.EpisodeID)
			return nil
		},
	}
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <episode-id>",
		Short: "Show the latest progress of an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := ctx.client().Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !ctx.wantsTable(cmd) {
				return writeJSON(cmd, event)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(progressHeaders, [][]string{progressRow(event)}, progressAligns))
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var exchange string
	var episodeID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream progress events from RabbitMQ until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.amqpURL == "" {
				return errors.New("watch requires --amqp or VODCTL_AMQP_URL")
			}

			client, err := events.NewClient(events.ClientConfig{
				URL:      ctx.amqpURL,
				Exchange: exchange,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			table := ctx.wantsTable(cmd)
			err = client.Subscribe(runCtx, func(event model.ProgressEvent) {
				if episodeID != "" && event.EpisodeID != episodeID {
					return
				}
				if table {
					fmt.Fprintln(cmd.OutOrStdout(), formatEventLine(event))
					return
				}
				_ = writeJSON(cmd, event)
			})
			if runCtx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", defaultExchange, "Progress exchange name")
	cmd.Flags().StringVar(&episodeID, "episode", "", "Only show events of this episode")
	return cmd
}

func formatEventLine(event model.ProgressEvent) string {
	line := fmt.Sprintf("%s  %-12s %-11s %-14s %3d%%",
		formatTime(event.Timestamp), event.EpisodeID, event.Status, event.CurrentStage, event.Progress)
	if event.Error != "" {
		line += "  " + event.Error
	}
	return line
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hszk-dev/vodforge/internal/domain/model"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect transcode jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsGetCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if state != "" && !model.JobState(state).IsValid() {
				return fmt.Errorf("invalid state %q", state)
			}

			jobs, err := ctx.client().ListJobs(cmd.Context(), state)
			if err != nil {
				return err
			}

			if !ctx.wantsTable(cmd) {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(jobHeaders, jobRows(jobs), jobAligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only list jobs in this state (waiting, delayed, active, completed, failed)")
	return cmd
}

func newJobsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !ctx.wantsTable(cmd) {
				return writeJSON(cmd, job)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(jobHeaders, jobRows([]*model.Job{job}), jobAligns))
			return nil
		},
	}
}

package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultAPIURL   = "http://localhost:8080"
	defaultExchange = "vodforge.progress"

	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
)

type commandContext struct {
	apiURL  string
	amqpURL string
	output  string
	timeout time.Duration
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(strings.TrimRight(c.apiURL, "/"), &http.Client{Timeout: c.timeout})
}

func (c *commandContext) validate() error {
	switch c.output {
	case outputAuto, outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("invalid output %q (want auto, table or json)", c.output)
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "vodctl",
		Short:         "Inspect and manage vodforge transcode jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.apiURL, "api", envOr("VODCTL_API_URL", defaultAPIURL), "Base URL of the vodforge API")
	flags.StringVar(&ctx.amqpURL, "amqp", os.Getenv("VODCTL_AMQP_URL"), "AMQP URL used by watch")
	flags.StringVarP(&ctx.output, "output", "o", outputAuto, "Output format: auto, table or json")
	flags.DurationVar(&ctx.timeout, "timeout", 10*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newProgressCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

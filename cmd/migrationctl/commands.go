package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
)

type rootOptions struct {
	v      *viper.Viper
	output string
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.v.GetString("server"), o.v.GetString("token"), o.v.GetDuration("timeout"))
}

// print writes v as YAML (keys follow the JSON field names) or JSON
func (o *rootOptions) print(w io.Writer, v any) error {
	if o.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "migrationctl",
		Short:         "Start and supervise accounting data migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "yaml" && opts.output != "json" {
				return fmt.Errorf("unknown output format %q", opts.output)
			}
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "Migration service base URL")
	flags.String("token", "", "Bearer token (env OPERATE_TOKEN)")
	flags.Duration("timeout", 30*time.Second, "Request timeout")
	flags.StringVarP(&opts.output, "output", "o", "yaml", "Output format: yaml or json")

	opts.v.SetEnvPrefix("OPERATE")
	opts.v.AutomaticEnv()
	_ = opts.v.BindPFlags(flags)

	cmd.AddCommand(
		newStartCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newJobCommand(opts, "pause", "Pause a running migration at its next checkpoint"),
		newJobCommand(opts, "resume", "Resume a paused migration"),
		newJobCommand(opts, "cancel", "Cancel a migration"),
		newMappingCmd(opts),
		newReportCmd(opts),
	)
	return cmd
}

// loadJobTemplate reads a YAML job definition
func loadJobTemplate(path string) (migrationapp.StartMigrationRequest, error) {
	var req migrationapp.StartMigrationRequest
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, err
		}
		defer f.Close()
		r = f
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parse job template: %w", err)
	}
	return req, nil
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	var file, platform, externalTenant string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a migration from a YAML job template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req migrationapp.StartMigrationRequest
			if file != "" {
				var err error
				if req, err = loadJobTemplate(file); err != nil {
					return err
				}
			}
			if platform != "" {
				req.Platform = platform
			}
			if externalTenant != "" {
				req.ExternalTenantID = externalTenant
			}
			if req.Platform == "" || req.ExternalTenantID == "" {
				return fmt.Errorf("platform and external tenant are required (template or flags)")
			}
			job, err := opts.client().Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Job template, or - for stdin")
	cmd.Flags().StringVar(&platform, "platform", "", "Override the template platform")
	cmd.Flags().StringVar(&externalTenant, "external-tenant", "", "Override the template external tenant id")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the progress of a migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			client := opts.client()
			if !watch {
				job, err := client.Status(cmd.Context(), id)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), job)
			}
			return watchJob(cmd.Context(), client, id, interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval with --watch")
	return cmd
}

// watchJob prints one progress line per poll until the job is terminal
func watchJob(ctx context.Context, client *apiClient, id uuid.UUID, interval time.Duration, w io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := client.Status(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %-11s %6.2f%% processed=%d failed=%d skipped=%d %s\n",
			time.Now().Format(time.TimeOnly), job.Status, job.Percentage,
			job.Counters.Processed, job.Counters.Failed, job.Counters.Skipped, job.CurrentEntityType)
		if migration.JobStatus(job.Status).IsTerminal() {
			if job.FailureReason != "" {
				fmt.Fprintln(w, "reason:", job.FailureReason)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var f migrationapp.ListJobsFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List migrations of the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := opts.client().List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				return opts.print(cmd.OutOrStdout(), page)
			}
			return printJobTable(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVar(&f.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", 20, "Page size")
	cmd.Flags().StringSliceVar(&f.Statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&f.Platform, "platform", "", "Filter by platform")
	return cmd
}

func printJobTable(w io.Writer, page *migrationapp.JobListResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLATFORM\tEXTERNAL TENANT\tSTATUS\tPROGRESS\tERRORS\tCREATED")
	for _, j := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%d\t%s\n",
			j.ID, j.Platform, j.ExternalTenantID, j.Status, j.Percentage, j.ErrorCount,
			j.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d/%d, %d total\n", page.Page, max(page.TotalPages, 1), page.Total)
	return err
}

func newJobCommand(opts *rootOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			job, err := opts.client().command(cmd.Context(), id, action)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), job)
		},
	}
}

func newMappingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mapping <job-id> <entity-type> <external-id>",
		Short: "Show which internal record an external record was imported as",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			m, err := opts.client().Mapping(cmd.Context(), id, strings.TrimSpace(args[1]), args[2])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), m)
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report <job-id>",
		Short: "Print a download link for the final report of a finished migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			link, err := opts.client().Report(cmd.Context(), id)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), link)
		},
	}
}

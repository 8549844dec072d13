package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/agent-playground/internal/crawl"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/realtime"
)

func newRootCmd(d *deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "playgroundctl",
		Short: "Operate agent playgrounds from the command line",
		Long: `playgroundctl edits agent configuration, runs crawls and manages
training data against the same backends as the API server.

Examples:
  playgroundctl config set a1 widget.title '"Welcome"'
  playgroundctl crawl start a1 https://example.com --wait
  playgroundctl training delete a1 rec-1 rec-2
  playgroundctl training watch a1`,
		SilenceUsage: true,
	}
	root.AddCommand(newConfigCmd(d), newCrawlCmd(d), newTrainingCmd(d))
	return root
}

func newConfigCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Read and write agent configuration"}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <agent> <path>",
		Short: "Print the value at a dotted path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := d.configs(cmd.Context())
			if err != nil {
				return err
			}
			v, err := w.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <agent> <path> <json-value>",
		Short: "Set the value at a dotted path",
		Long:  "Set the value at a dotted path. The value is parsed as JSON; anything that is not valid JSON is stored as a string.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := d.configs(cmd.Context())
			if err != nil {
				return err
			}
			if err := w.Set(cmd.Context(), args[0], args[1], parseValue(args[2])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s on agent %s\n", args[1], args[0])
			return nil
		},
	})
	return cmd
}

func newCrawlCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{Use: "crawl", Short: "Crawl a website into an agent's training data"}

	var wait bool
	start := &cobra.Command{
		Use:   "start <agent> <url>",
		Short: "Start a crawl",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := d.crawler(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			job, err := c.Start(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "crawl %s started for %s\n", job.JobID, job.URL)
			if !wait {
				return nil
			}

			c.Wait(args[0])
			st, _ := c.Status(args[0])
			if st.State != crawl.StateCompleted {
				return fmt.Errorf("crawl %s ended in state %s", job.JobID, st.State)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "crawl %s completed with %d records after %d checks\n",
				job.JobID, len(st.Records), st.Checks)
			return nil
		},
	}
	start.Flags().BoolVar(&wait, "wait", false, "Poll until every crawled page is scraped")
	cmd.AddCommand(start)
	return cmd
}

func newTrainingCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{Use: "training", Short: "Manage training data"}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <agent> <record-id>...",
		Short: "Delete training records from every store",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, contents, err := d.training(cmd.Context())
			if err != nil {
				return err
			}
			agentID, ids := args[0], args[1:]

			all, err := contents.ListContent(cmd.Context(), agentID, "")
			if err != nil {
				return err
			}
			wanted := make(map[string]bool, len(ids))
			for _, id := range ids {
				wanted[id] = true
			}
			var selected []playground.TrainingRecord
			for _, r := range all {
				if wanted[r.ID] {
					selected = append(selected, r)
					delete(wanted, r.ID)
				}
			}
			for id := range wanted {
				fmt.Fprintf(cmd.ErrOrStderr(), "record %s not found\n", id)
			}
			if len(selected) == 0 {
				return errors.New("no matching training records")
			}

			res, err := rec.BulkDelete(cmd.Context(), agentID, selected)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("operation %s finished with %d failures", res.OperationID, len(res.Failures))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch <agent>",
		Short: "Stream training record changes until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := d.watcher(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			b, err := w.Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s (%d records)\n", args[0], len(b.Records()))
			b.OnChange(func(ev realtime.ChangeEvent, records []playground.TrainingRecord) {
				fmt.Fprintf(out, "%s %s %s (%d records)\n",
					time.Now().Format(time.TimeOnly), ev.Type, recordID(ev), len(records))
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	})

	var limit int
	failed := &cobra.Command{
		Use:   "failed-steps <agent>",
		Short: "List failed reconcile steps, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := d.steps(cmd.Context())
			if err != nil {
				return err
			}
			steps, err := s.Failed(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, st := range steps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s [%s] %s\n",
					st.CreatedAt.Format(time.RFC3339), st.OperationID, st.Operation, st.Name,
					strings.Join(st.Targets, ","), st.Error)
			}
			return nil
		},
	}
	failed.Flags().IntVar(&limit, "limit", 50, "Maximum number of steps to list")
	cmd.AddCommand(failed)
	return cmd
}

func parseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

func recordID(ev realtime.ChangeEvent) string {
	for _, rec := range []map[string]any{ev.New, ev.Old} {
		if id, ok := rec["id"].(string); ok {
			return id
		}
	}
	return "-"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

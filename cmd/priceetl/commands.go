package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"priceetl/internal/api"
	"priceetl/internal/config"
	"priceetl/internal/export"
	"priceetl/internal/ingest"
	"priceetl/internal/jobs"
	"priceetl/internal/model"
	"priceetl/internal/pipeline"
	"priceetl/internal/probe"
	"priceetl/internal/queue"
	"priceetl/internal/source"
	"priceetl/internal/tracker"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "priceetl",
		Short:         "Retail price ingestion, warehouse and reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config JSON path (defaults plus PRICEETL_* environment when empty)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	root.AddCommand(
		newImportCmd(a),
		newWarehouseCmd(a),
		newExportCmd(a),
		newMigrateCmd(a),
		newImportsCmd(a),
		newScheduleCmd(a),
		newWorkerCmd(a),
		newServeCmd(a),
		newProbeCmd(a),
	)
	return root
}

// usageArgs turns cobra's argument validation errors into usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(exitUsage, v(cmd, args))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withEnv opens the environment for the length of fn.
func (a *app) withEnv(ctx context.Context, fn func(*env) error) (err error) {
	e, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

func parseDay(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, usageErr("--%s: want YYYY-MM-DD, got %q", flag, s)
	}
	return &t, nil
}

type importFlags struct {
	chunkSize   int
	maxRows     int64
	noWarehouse bool
	sourceTag   string
	importID    string
	format      string
	async       bool
}

func newImportCmd(a *app) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Ingest a CSV or JSON price file (local path or gs://bucket/object)",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.chunkSize < 0 || f.maxRows < 0 {
				return usageErr("--chunk-size and --max-rows must not be negative")
			}
			if _, err := ingest.DetectFormat(args[0], f.format); err != nil {
				return withCode(exitUsage, err)
			}
			return a.runImport(cmd.Context(), args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "rows per processing chunk (default: import.chunk_size, 1000)")
	fl.Int64Var(&f.maxRows, "max-rows", 0, "stop after this many rows (0 means all)")
	fl.BoolVar(&f.noWarehouse, "no-warehouse", false, "do not trigger a warehouse load afterwards")
	fl.StringVar(&f.sourceTag, "source-tag", model.DefaultDataSource, "data_source recorded on the import")
	fl.StringVar(&f.importID, "import-id", "", "resume or retry this import id")
	fl.StringVar(&f.format, "format", "", "csv|json (detected from the extension when empty)")
	fl.BoolVar(&f.async, "async", false, "enqueue the import instead of running it")
	return cmd
}

func (a *app) runImport(ctx context.Context, path string, f importFlags) error {
	return a.withEnv(ctx, func(e *env) error {
		job := queue.ImportJob{
			ImportID:         f.importID,
			Path:             path,
			Format:           f.format,
			DataSource:       f.sourceTag,
			ChunkSize:        f.chunkSize,
			MaxRows:          f.maxRows,
			TriggerWarehouse: e.cfg.Import.TriggerWarehouse && !f.noWarehouse,
		}
		if job.ImportID == "" {
			job.ImportID = tracker.NewImportID(time.Now())
		}

		if f.async {
			j := queue.NewImport(job)
			if err := e.dispatcher.Dispatch(ctx, j); err != nil {
				return err
			}
			return writeJSON(a.stdout, map[string]string{"job_id": j.ID, "import_id": job.ImportID})
		}

		if _, err := e.pipe.RunImport(ctx, job); err != nil {
			return err
		}
		rec, err := e.repo.GetImport(ctx, job.ImportID)
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, rec.View())
	})
}

func newWarehouseCmd(a *app) *cobra.Command {
	var (
		full  bool
		from  string
		async bool
	)
	cmd := &cobra.Command{
		Use:   "warehouse",
		Short: "Load dimensions and price-change facts",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromDay, err := parseDay("from", from)
			if err != nil {
				return err
			}
			if full && fromDay != nil {
				return usageErr("--from cannot be combined with --full")
			}
			job := queue.WarehouseJob{Full: full, From: fromDay}
			return a.withEnv(cmd.Context(), func(e *env) error {
				if async {
					j := queue.NewWarehouse(job)
					if err := e.dispatcher.Dispatch(cmd.Context(), j); err != nil {
						return err
					}
					return writeJSON(a.stdout, map[string]string{"job_id": j.ID})
				}
				res, err := e.pipe.RunWarehouse(cmd.Context(), job)
				if err != nil {
					return err
				}
				return writeJSON(a.stdout, res)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "rebuild every fact")
	cmd.Flags().StringVar(&from, "from", "", "incremental start date YYYY-MM-DD (default: the configured lookback)")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue the load instead of running it")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var from, to, format, outDir string
	cmd := &cobra.Command{
		Use:   "export <price-trends|product-summary|category-analysis>",
		Short: "Write a warehouse report to a CSV, JSON or XLSX file",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			fmtv, err := export.ParseFormat(format)
			if err != nil {
				return withCode(exitUsage, err)
			}
			var filter model.ReportFilter
			if filter.From, err = parseDay("from", from); err != nil {
				return err
			}
			if filter.To, err = parseDay("to", to); err != nil {
				return err
			}
			return a.withEnv(cmd.Context(), func(e *env) error {
				dir := outDir
				if dir == "" {
					dir = e.cfg.Export.Dir
				}
				path, err := export.New(e.repo, dir, e.log).Export(cmd.Context(), kind, fmtv, filter)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day YYYY-MM-DD")
	cmd.Flags().StringVar(&format, "format", "csv", "csv|json|xlsx")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "output directory (default: export.dir)")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			// open ensures the schema.
			return a.withEnv(cmd.Context(), func(e *env) error {
				fmt.Fprintf(a.stdout, "schema ready (%s)\n", e.cfg.Storage.Kind)
				return nil
			})
		},
	}
}

func newImportsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "imports [import_id]",
		Short: "Show import records",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return usageErr("--limit must be positive")
			}
			return a.withEnv(cmd.Context(), func(e *env) error {
				tr := tracker.New(e.repo, e.log)
				if len(args) == 1 {
					rec, err := tr.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return writeJSON(a.stdout, rec.View())
				}
				recs, err := tr.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				views := make([]model.ImportView, 0, len(recs))
				for _, r := range recs {
					views = append(views, r.View())
				}
				return writeJSON(a.stdout, views)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "records to list")
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily and weekly warehouse loads until interrupted",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEnv(cmd.Context(), func(e *env) error {
				entries, err := pipeline.ScheduleEntries(e.cfg.Schedule, e.dispatcher)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return errors.New("schedule: nothing to run, set schedule.daily_at or schedule.weekly_at")
				}
				return jobs.NewScheduler(e.cfg.Schedule.Tick.Duration, e.log, entries...).Run(cmd.Context())
			})
		},
	}
}

func newWorkerCmd(a *app) *cobra.Command {
	var maxOutstanding int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume jobs from the Pub/Sub subscription",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEnv(cmd.Context(), func(e *env) error {
				if e.pubsub == nil || e.cfg.Queue.Subscription == "" {
					return errors.New("worker: needs queue.kind=pubsub and queue.subscription")
				}
				w := queue.NewWorker(e.pipe.Handle, jobs.IsPermanent, e.log)
				return w.Receive(cmd.Context(), e.pubsub.Client(), e.cfg.Queue.Subscription, maxOutstanding)
			})
		},
	}
	cmd.Flags().IntVar(&maxOutstanding, "max-outstanding", 1, "messages processed concurrently")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the import status API",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEnv(cmd.Context(), func(e *env) error {
				if addr == "" {
					addr = e.cfg.API.Addr
				}
				var push api.PushProcessor
				if e.pubsub != nil {
					push = queue.NewWorker(e.pipe.Handle, jobs.IsPermanent, e.log)
				}
				return api.Serve(cmd.Context(), addr, api.NewRouter(e.repo, push, e.log), e.log)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: api.addr)")
	return cmd
}

// probe reads only the input, so it needs no storage.
func newProbeCmd(a *app) *cobra.Command {
	var opt probe.Options
	cmd := &cobra.Command{
		Use:   "probe <path>",
		Short: "Sample an input file and report how it would be imported",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ingest.DetectFormat(args[0], opt.Format); err != nil {
				return withCode(exitUsage, err)
			}
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			o := source.NewOpener(cfg.GCP.ClientOptions()...)
			defer o.Close()
			rep, err := probe.Probe(cmd.Context(), o, args[0], opt)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, rep)
		},
	}
	cmd.Flags().IntVar(&opt.MaxBytes, "max-bytes", probe.DefaultMaxBytes, "bytes sampled from the start of the file")
	cmd.Flags().IntVar(&opt.MaxRows, "rows", probe.DefaultMaxRows, "rows transformed from the sample")
	cmd.Flags().StringVar(&opt.Format, "format", "", "csv|json (detected when empty)")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/RezaEskandarii/firequeue/app"
	"github.com/RezaEskandarii/firequeue/client"
	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ContainerFactory builds the dependencies a command runs against.
type ContainerFactory func(ctx context.Context, cfg *config.QueueConfig) (*app.Container, error)

// ScheduleFunc registers recurring jobs on the scheduler started by `work`.
type ScheduleFunc func(s *client.Scheduler) error

type cli struct {
	configFile string
	instance   string
	registry   *codec.Registry
	schedules  []ScheduleFunc
	newApp     ContainerFactory
}

// BuildCLI returns the root command. registry must hold every job type the
// workers are expected to run.
func BuildCLI(registry *codec.Registry, schedules ...ScheduleFunc) *cobra.Command {
	c := &cli{registry: registry, schedules: schedules}
	c.newApp = func(ctx context.Context, cfg *config.QueueConfig) (*app.Container, error) {
		return app.NewContainer(ctx, cfg, app.WithRegistry(c.registry))
	}
	return c.root()
}

func (c *cli) root() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "firequeue",
		Short: "firequeue: a durable, database-backed background job queue",
		Long: `firequeue runs workers for jobs stored in PostgreSQL and gives operators
access to the failed job table.

Without --config the Postgres URL is read from ` + config.PostgresURLEnv + `.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&c.instance, "instance", defaultInstance(), "instance name used in logs and scheduler leadership")

	rootCmd.AddCommand(c.workCommand())
	rootCmd.AddCommand(c.migrateCommand())
	rootCmd.AddCommand(c.sizeCommand())
	rootCmd.AddCommand(c.failedCommand())

	return rootCmd
}

// loadConfig reads --config when given. An explicit --instance wins over the
// file's instance name.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.QueueConfig, error) {
	if c.configFile != "" {
		cfg, err := config.LoadFile(c.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("instance") {
			cfg.Instance = c.instance
		}
		return cfg, nil
	}
	return config.NewQueueConfig(c.instance,
		config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: os.Getenv(config.PostgresURLEnv)}))
}

// withContainer loads the config, builds the container and closes it when fn
// returns.
func (c *cli) withContainer(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.QueueConfig, ctr *app.Container) error) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctr, err := c.newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer ctr.Close()

	return fn(ctx, cfg, ctr)
}

func (c *cli) workCommand() *cobra.Command {
	var (
		queues        []string
		sleep         time.Duration
		tries         int
		timeout       time.Duration
		workers       int
		once          bool
		stopWhenEmpty bool
		maxJobs       int
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process jobs from the given queues",
		Long: `Process jobs from the given queues. Queues are polled in the order they are
listed, so --queue high,default drains high before touching default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, cfg *config.QueueConfig, ctr *app.Container) error {
				if !cmd.Flags().Changed("queue") {
					queues = cfg.Queues
				}
				if !cmd.Flags().Changed("sleep") {
					sleep = cfg.Sleep
				}
				if !cmd.Flags().Changed("workers") {
					workers = cfg.WorkerCount
				}
				if !cmd.Flags().Changed("metrics") && cfg.Metrics.Enabled {
					metricsAddr = cfg.Metrics.Address
				}

				var opts []client.WorkerOption
				if tries > 0 {
					opts = append(opts, client.WithMaxTries(tries))
				}
				if timeout > 0 {
					opts = append(opts, client.WithTimeout(timeout))
				}
				if stopWhenEmpty {
					opts = append(opts, client.WithStopWhenEmpty())
				}
				if maxJobs > 0 {
					opts = append(opts, client.WithMaxJobs(maxJobs))
				}

				if once {
					result, err := ctr.NewWorker(cfg.Instance, opts...).RunOnce(ctx, queues)
					if err != nil {
						return err
					}
					printResult(cmd.OutOrStdout(), result)
					return nil
				}
				return c.runWorkers(ctx, cfg, ctr, queues, sleep, workers, metricsAddr, opts)
			})
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queue", config.DefaultQueues, "queues to process, highest priority first")
	cmd.Flags().DurationVar(&sleep, "sleep", config.DefaultSleep, "pause when no job is available")
	cmd.Flags().IntVar(&tries, "tries", 0, "attempt budget of jobs that do not set their own")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "upper bound on the run time of a single job")
	cmd.Flags().IntVar(&workers, "workers", config.DefaultWorkerCount, "number of worker loops in this process")
	cmd.Flags().BoolVar(&once, "once", false, "process a single job and exit")
	cmd.Flags().BoolVar(&stopWhenEmpty, "stop-when-empty", false, "exit once the queues are empty")
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "exit each worker after this many jobs")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")

	return cmd
}

func (c *cli) runWorkers(ctx context.Context, cfg *config.QueueConfig, ctr *app.Container, queues []string,
	sleep time.Duration, workers int, metricsAddr string, opts []client.WorkerOption) error {
	if workers < 1 {
		workers = 1
	}

	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()
	aux, auxCtx := errgroup.WithContext(auxCtx)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: ctr.Metrics.Handler()}
		aux.Go(func() error {
			ctr.Logger.Printf("metrics server listening on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		aux.Go(func() error {
			<-auxCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(auxCtx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, schedule := range c.schedules {
		if err := schedule(ctr.Scheduler); err != nil {
			return err
		}
	}
	if len(ctr.Scheduler.Entries()) > 0 {
		aux.Go(func() error {
			return ctr.Scheduler.Start(auxCtx)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		w := ctr.NewWorker(fmt.Sprintf("%s-%d", cfg.Instance, i+1), opts...)
		g.Go(func() error {
			return w.Run(gctx, queues, sleep)
		})
	}

	err := g.Wait()
	stopAux()
	return errors.Join(err, aux.Wait())
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the jobs and failed_jobs tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				if err := ctr.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func (c *cli) sizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "size [queue...]",
		Short: "Print the number of pending jobs per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, cfg *config.QueueConfig, ctr *app.Container) error {
				queues := args
				if len(queues) == 0 {
					queues = cfg.Queues
				}
				for _, q := range queues {
					n, err := ctr.Store.Size(ctx, q)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", q, n)
				}
				return nil
			})
		},
	}
}

func (c *cli) failedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and manage jobs that exhausted their attempts",
	}
	cmd.AddCommand(c.failedListCommand())
	cmd.AddCommand(c.failedShowCommand())
	cmd.AddCommand(c.failedRetryCommand())
	cmd.AddCommand(c.failedForgetCommand())
	cmd.AddCommand(c.failedFlushCommand())
	cmd.AddCommand(c.failedWatchCommand())
	return cmd
}

func (c *cli) failedListCommand() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				result, err := ctr.FailedJobManager.List(ctx, page, pageSize)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, job := range result.Items {
					fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", job.ID, job.Queue, job.FailedAt.Format(time.RFC3339), firstLine(job.Exception))
				}
				fmt.Fprintf(out, "page %d of %d (%d failed jobs)\n", result.Page, result.TotalPages, result.TotalItems)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 15, "failed jobs per page")
	return cmd
}

func (c *cli) failedShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print one failed job with its payload and error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				job, err := ctr.FailedJobManager.Find(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:        %d\n", job.ID)
				fmt.Fprintf(out, "uuid:      %s\n", job.UUID)
				fmt.Fprintf(out, "queue:     %s\n", job.Queue)
				fmt.Fprintf(out, "failed at: %s\n", job.FailedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "payload:   %s\n", job.Payload)
				fmt.Fprintf(out, "exception:\n%s\n", job.Exception)
				return nil
			})
		},
	}
}

func (c *cli) failedRetryCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "retry [ID]",
		Short: "Push a failed job back onto its queue",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				out := cmd.OutOrStdout()
				if all {
					ids, err := ctr.FailedJobManager.RetryAll(ctx)
					fmt.Fprintf(out, "%d failed jobs pushed back onto their queues\n", len(ids))
					return err
				}

				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				jobID, err := ctr.FailedJobManager.Retry(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "failed job %d pushed back as job %d\n", id, jobID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "retry every failed job")
	return cmd
}

func (c *cli) failedForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget ID",
		Short: "Delete one failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				if err := ctr.FailedJobManager.Forget(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "failed job %d deleted\n", id)
				return nil
			})
		},
	}
}

func (c *cli) failedFlushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Delete all failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				n, err := ctr.FailedJobManager.Flush(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d failed jobs deleted\n", n)
				return nil
			})
		},
	}
}

func (c *cli) failedWatchCommand() *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print failed jobs as workers quarantine them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, _ *config.QueueConfig, ctr *app.Container) error {
				out := cmd.OutOrStdout()
				err := ctr.FailedJobManager.Watch(ctx, queue, func(event message_broker.FailedJobEvent) {
					fmt.Fprintf(out, "%s\t%d\t%s\t%s\t%s\n", event.FailedAt.Format(time.RFC3339), event.JobID,
						event.Queue, event.Name, firstLine(event.Exception))
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "broker queue to consume (defaults to the configured one)")
	return cmd
}

func printResult(out io.Writer, result types.JobResult) {
	switch result.Outcome {
	case types.OutcomeEmpty:
		fmt.Fprintln(out, "no job available")
	case types.OutcomeSucceeded:
		fmt.Fprintf(out, "job %d (%s) processed in %s\n", result.JobID, result.Name, result.Duration)
	default:
		fmt.Fprintf(out, "job %d (%s) %s after attempt %d: %v\n", result.JobID, result.Name, result.Outcome, result.Attempts, result.Err)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid job ID %q", s)
	}
	return id, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "firequeue"
	}
	return host
}

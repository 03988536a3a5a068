package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/kelsos/x-checker/internal/download"
	"github.com/kelsos/x-checker/internal/logger"
	"github.com/kelsos/x-checker/internal/models"
	"github.com/kelsos/x-checker/internal/output"
	"github.com/kelsos/x-checker/internal/services"
	"github.com/kelsos/x-checker/internal/storage"
	"github.com/kelsos/x-checker/internal/tui"
)

func (a *app) render(cmd *cobra.Command, records ...models.TaskRecord) error {
	return output.Render(cmd.OutOrStdout(), a.cfg.Output, records...)
}

func newCheckCmd(a *app) *cobra.Command {
	var useTUI bool

	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Submit input files, wait for the tasks and download the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if useTUI {
				return a.checkWithMonitor(cmd, args)
			}

			svc, closeFn, err := a.newService()
			if err != nil {
				return err
			}
			defer closeFn()

			results, err := svc.CheckAll(cmd.Context(), args)
			if renderErr := a.renderResults(cmd, results); renderErr != nil {
				return renderErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show a terminal monitor while checking")

	return cmd
}

// checkWithMonitor runs the monitor and the checks as two actors, so quitting
// the screen cancels the checks and finished checks close the screen.
func (a *app) checkWithMonitor(cmd *cobra.Command, files []string) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logPath, err := logger.InitFileOnly(".", a.cfg.Debug)
	if err != nil {
		return err
	}
	// Runs after closeFn, so the NATS connection is closed before the swap.
	defer func() {
		logger.Close()
		logger.Init(a.cfg.Debug)
	}()

	monitor := tui.NewCheckMonitor(logPath)
	svc, closeFn, err := a.newService(services.WithObserver(monitor.Observe))
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		results  []services.CheckResult
		checkErr error
	)

	var g run.Group
	g.Add(func() error {
		return monitor.Run()
	}, func(error) {
		monitor.Stop()
	})
	g.Add(func() error {
		results, checkErr = monitor.RunChecks(ctx, svc, files)
		return nil
	}, func(error) {
		cancel()
	})

	if err := g.Run(); err != nil {
		return err
	}

	if err := a.renderResults(cmd, results); err != nil {
		return err
	}
	return checkErr
}

func (a *app) renderResults(cmd *cobra.Command, results []services.CheckResult) error {
	var records []models.TaskRecord
	for _, res := range results {
		if res.Record != nil {
			records = append(records, *res.Record)
		}
		if res.ResultPath != "" {
			logger.Info("Results of %s saved to %s", res.File, res.ResultPath)
		}
	}
	if len(records) == 0 {
		return nil
	}
	return a.render(cmd, records...)
}

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit an input file without waiting for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.newService()
			if err != nil {
				return err
			}
			defer closeFn()

			record, err := svc.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(cmd, *record)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Fetch the current status of a task once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.newService()
			if err != nil {
				return err
			}
			defer closeFn()

			record, err := svc.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(cmd, *record)
		},
	}
}

func newWaitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wait TASK_ID",
		Short: "Poll a task until it is exported or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.newService()
			if err != nil {
				return err
			}
			defer closeFn()

			record, err := svc.Wait(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.render(cmd, *record); err != nil {
				return err
			}
			if record.Status == models.TaskStatusFailed {
				return fmt.Errorf("task %s: %w", record.TaskID, services.ErrTaskFailed)
			}
			return nil
		},
	}
}

func newInputCmd(a *app) *cobra.Command {
	var (
		outPath  string
		appendTo bool
	)

	cmd := &cobra.Command{
		Use:   "input NUMBER...",
		Short: "Create an input file with one phone number per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			numbers := args
			if appendTo {
				existing, err := storage.ReadNumbers(outPath)
				if err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				numbers = append(existing, args...)
			}

			path, err := storage.WriteInputFile(outPath, numbers)
			if err != nil {
				return err
			}
			logger.Info("Created input file %s with %d numbers", path, len(numbers))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "input.txt", "Path of the input file")
	cmd.Flags().BoolVar(&appendTo, "append", false, "Keep the numbers already in the file")

	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Download a result file from its result URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := outPath
			if dest == "" {
				dest = storage.ResultPath(a.cfg.ResultsDir, "result", args[0])
			}

			n, err := download.FetchResult(cmd.Context(), nil, args[0], dest)
			if err != nil {
				return err
			}
			logger.Info("Saved %d bytes to %s", n, dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination file (default: <results-dir>/result<ext>)")

	return cmd
}

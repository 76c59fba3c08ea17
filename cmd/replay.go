package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/service/monitor"
	"github.com/itiky/list-mirror/service/source"
	"github.com/itiky/list-mirror/session"
)

const (
	FlagBatchChSize  = "batch-ch-size"
	FlagHandlePeriod = "handle-period"
	FlagReportPeriod = "report-period"
	FlagTimeout      = "timeout"
	FlagPrint        = "print"
)

// GetReplayCmd returns scenario replay command.
func GetReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Mirror a scripted collection and verify the result",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				fatalf("%s flag: %v", FlagFilePath, err)
			}
			chSize, err := cmd.Flags().GetInt(FlagBatchChSize)
			if err != nil {
				fatalf("%s flag: %v", FlagBatchChSize, err)
			}
			handleDur, err := cmd.Flags().GetDuration(FlagHandlePeriod)
			if err != nil {
				fatalf("%s flag: %v", FlagHandlePeriod, err)
			}
			reportDur, err := cmd.Flags().GetDuration(FlagReportPeriod)
			if err != nil {
				fatalf("%s flag: %v", FlagReportPeriod, err)
			}
			timeout, err := cmd.Flags().GetDuration(FlagTimeout)
			if err != nil {
				fatalf("%s flag: %v", FlagTimeout, err)
			}
			printSnapshot, err := cmd.Flags().GetBool(FlagPrint)
			if err != nil {
				fatalf("%s flag: %v", FlagPrint, err)
			}

			scenario, err := LoadScenario(filePath)
			if err != nil {
				fatalf("loading scenario: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if _, err := replayScenario(ctx, scenario, chSize, handleDur, reportDur, printSnapshot); err != nil {
				fatalf("replay: %v", err)
			}
		},
	}
	cmd.Flags().String(FlagFilePath, "./scenario.yaml", "(optional) scenario file path")
	cmd.Flags().Int(FlagBatchChSize, 50, "(optional) input operation channel limit")
	cmd.Flags().Duration(FlagHandlePeriod, 0, "(optional) input operations batching period, 0 to forward every batch as is")
	cmd.Flags().Duration(FlagReportPeriod, 1*time.Second, "(optional) monitor report period")
	cmd.Flags().Duration(FlagTimeout, 30*time.Second, "(optional) replay timeout")
	cmd.Flags().Bool(FlagPrint, false, "(optional) print the final snapshot")

	return cmd
}

// replayScenario mirrors the scenario collection through a MemorySource and returns the snapshot the mirror
// converged to.
func replayScenario(ctx context.Context, scenario Scenario, chSize int, handleDur, reportDur time.Duration, printSnapshot bool) (model.Snapshot[model.ListItem], error) {
	var snapshot model.Snapshot[model.ListItem]

	// Init monitor
	mon, err := monitor.NewMonitor(prometheus.NewRegistry(), reportDur)
	if err != nil {
		return snapshot, fmt.Errorf("monitor init: %w", err)
	}
	mon.Start()
	defer mon.Stop()

	// Init source: every "load more" appends the next scenario page.
	// Requests are single-flight, so pageIdx is never accessed concurrently.
	var (
		src     *source.MemorySource[model.ListItem]
		pageIdx int
	)
	loadMore := func(ctx context.Context, id model.CollectionId) (bool, error) {
		if pageIdx >= len(scenario.Pages) {
			return true, nil
		}

		page := scenario.Pages[pageIdx]
		if err := src.Push(ctx, id, model.Append(page...)); err != nil {
			return false, err
		}
		pageIdx++
		logger.Debugf("Page %d / %d loaded: %d items", pageIdx, len(scenario.Pages), len(page))

		return pageIdx >= len(scenario.Pages), nil
	}

	src, err = source.NewMemorySource[model.ListItem](chSize, handleDur, loadMore)
	if err != nil {
		return snapshot, fmt.Errorf("source init: %w", err)
	}

	// Init sessions
	mgr, err := session.NewManager[model.ListItem, model.ListItem](src, session.Config[model.ListItem, model.ListItem]{
		Mapper:    session.Identity[model.ListItem],
		Key:       model.ListItemKey,
		Telemetry: mon,
		Observer:  mon,
	})
	if err != nil {
		return snapshot, fmt.Errorf("manager init: %w", err)
	}
	defer mgr.Close()

	s, err := mgr.Open(ctx, scenario.Collection)
	if err != nil {
		return snapshot, fmt.Errorf("opening session: %w", err)
	}

	snapshots := s.Snapshots()
	defer snapshots.Close()

	// Replay
	for i, batch := range scenario.Batches {
		if err := src.Push(ctx, scenario.Collection, batch...); err != nil {
			return snapshot, fmt.Errorf("batch[%d]: push: %w", i, err)
		}
	}
	if scenario.CurrentItem != nil {
		if err := src.SetCurrentItem(ctx, scenario.Collection, model.SomeItem(*scenario.CurrentItem)); err != nil {
			return snapshot, fmt.Errorf("setting current item: %w", err)
		}
	}
	for i := 0; i < len(scenario.Pages); i++ {
		if err := s.RequestMore(ctx); err != nil {
			return snapshot, fmt.Errorf("page[%d]: %w", i, err)
		}
	}

	// Wait for the mirror to converge; the zero snapshot would match an empty expected list
	expected := scenario.Expected()
	for received := false; !received || !slices.Equal(snapshot.Items(), expected); {
		select {
		case <-ctx.Done():
			return snapshot, fmt.Errorf("waiting for snapshot (v%d, %d items; expected %d items): %w",
				snapshot.Version(), snapshot.Len(), len(expected), ctx.Err(),
			)
		case v, ok := <-snapshots.Changes():
			if !ok {
				return snapshot, fmt.Errorf("snapshots stream closed: %w", snapshots.Err())
			}
			snapshot, received = v, true
		}
	}

	mon.Report()
	stats := mon.Stats()
	logger.Infof("Replay done: snapshot v%d, %d items (%d batches, %d ops, %d rejected, %d anomalies)",
		snapshot.Version(), snapshot.Len(), stats.Batches, stats.Ops, stats.RejectedOps, stats.Anomalies,
	)

	statusSub := s.PaginationStatus()
	logger.Infof("Pagination status: %s", <-statusSub.Changes())
	statusSub.Close()

	currentSub := s.CurrentItem()
	if current := <-currentSub.Changes(); current.Present {
		logger.Infof("Current item: %s", current.Item)
	}
	currentSub.Close()

	if printSnapshot {
		fmt.Print(snapshot.String())
	}

	return snapshot, nil
}

func init() {
	rootCmd.AddCommand(GetReplayCmd())
}

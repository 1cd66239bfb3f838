package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vladiki/Lean/internal/common/app"
	"github.com/vladiki/Lean/internal/common/serve"
	"github.com/vladiki/Lean/internal/results"
	"github.com/vladiki/Lean/internal/results/configuration"
)

const dateLayout = "2006-01-02"

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Runs a synthetic backtest through the configured result pipeline",
		RunE:  simulate,
	}
	cmd.Flags().String("start", "", "First simulated day, as YYYY-MM-DD. Defaults to simulation.periodStart.")
	cmd.Flags().String("end", "", "Last simulated day, as YYYY-MM-DD. Defaults to simulation.periodFinish.")
	cmd.Flags().Int64("seed", 0, "Seed of the random walk. Defaults to the current time.")
	cmd.Flags().Int("user", 0, "User id the run belongs to. Defaults to simulation.userId.")
	cmd.Flags().Int("project", 0, "Project id the run belongs to. Defaults to simulation.projectId.")
	return cmd
}

func simulate(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applySimulationFlags(cmd.Flags(), &config.Simulation); err != nil {
		return err
	}
	seed := time.Now().UnixNano()
	if cmd.Flags().Changed("seed") {
		if seed, err = cmd.Flags().GetInt64("seed"); err != nil {
			return err
		}
	}

	ctx := app.CreateContextWithShutdown()
	shutdownMetrics := serve.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	components, err := results.NewComponents(ctx, config, prometheus.DefaultRegisterer)
	defer components.Close()
	if err != nil {
		return err
	}

	ctx.Log.Infof("Simulating %s to %s with seed %d", config.Simulation.PeriodStart.Format(dateLayout), config.Simulation.PeriodFinish.Format(dateLayout), seed)
	start := time.Now()
	summary, err := results.RunSimulation(ctx, config, components, seed)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", summary.Identity.RunId)
	fmt.Fprintf(w, "Result:\t%s\n", summary.Identity.ResultKey())
	fmt.Fprintf(w, "Log:\t%s\n", summary.Identity.LogKey())
	fmt.Fprintf(w, "Days:\t%d\n", summary.Days)
	fmt.Fprintf(w, "Resample period:\t%s\n", summary.ResamplePeriod)
	fmt.Fprintf(w, "Orders:\t%d\n", summary.Orders)
	fmt.Fprintf(w, "Final equity:\t%s\n", summary.FinalEquity)
	fmt.Fprintf(w, "Live packets:\t%d\n", summary.LivePackets)
	fmt.Fprintf(w, "Debug messages:\t%d\n", summary.DebugMessages)
	fmt.Fprintf(w, "Took:\t%s\n", time.Since(start).Round(time.Millisecond))
	return w.Flush()
}

func applySimulationFlags(flags *pflag.FlagSet, config *configuration.SimulationConfig) error {
	for flag, target := range map[string]*time.Time{"start": &config.PeriodStart, "end": &config.PeriodFinish} {
		if !flags.Changed(flag) {
			continue
		}
		value, err := flags.GetString(flag)
		if err != nil {
			return err
		}
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return errors.Wrapf(err, "invalid --%s", flag)
		}
		*target = t
	}
	if !config.PeriodFinish.After(config.PeriodStart) {
		return errors.Errorf("simulation must end after it starts; got %s to %s",
			config.PeriodStart.Format(dateLayout), config.PeriodFinish.Format(dateLayout))
	}
	for flag, target := range map[string]*int{"user": &config.UserId, "project": &config.ProjectId} {
		if !flags.Changed(flag) {
			continue
		}
		value, err := flags.GetInt(flag)
		if err != nil {
			return err
		}
		*target = value
	}
	return nil
}

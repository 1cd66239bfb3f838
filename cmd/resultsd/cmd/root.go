package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	commonconfig "github.com/vladiki/Lean/internal/common/config"
	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/results/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/resultsd"
	envPrefix            string = "RESULTSD"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "resultsd",
		SilenceUsage: true,
		Short:        "Aggregates and dispatches the results of backtest runs",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		simulateCmd(),
		versionCmd(),
	)

	return cmd
}

func loadConfig() (configuration.ResultsConfiguration, error) {
	var config configuration.ResultsConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if _, err := commonconfig.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs, envPrefix); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	if err := logging.SetLevel(config.Logging.Level); err != nil {
		return config, err
	}
	if err := logging.SetFormat(config.Logging.Format); err != nil {
		return config, err
	}
	return config, nil
}

package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladiki/Lean/cmd/resultsd/cmd"
	"github.com/vladiki/Lean/internal/common/logging"
)

func main() {
	logging.ConfigureLogging()
	if err := logging.AddPrometheusHook(); err != nil {
		log.WithError(err).Warn("Log lines will not be counted")
	}
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

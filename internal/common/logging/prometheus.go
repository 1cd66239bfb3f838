package logging

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

// AddPrometheusHook counts log lines by level in the log_messages counter of the default prometheus registry.
func AddPrometheusHook() error {
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		return errors.WithStack(err)
	}
	log.AddHook(hook)
	return nil
}

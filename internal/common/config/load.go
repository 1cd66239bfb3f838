package config

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig reads config.yaml from defaultPath, merges each file in overrideConfigs over it in order, applies
// environment variables with the given prefix (e.g. RESULTSD_SAMPLING_SAMPLEBUDGET) and unmarshals the result
// into config.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string, envPrefix string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithMessagef(err, "error reading base config from %s", defaultPath)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		if strings.TrimSpace(overrideConfig) == "" {
			continue
		}
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.WithMessagef(err, "error reading config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	if envPrefix != "" {
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.SetEnvPrefix(envPrefix)
		v.AutomaticEnv()
	}

	if err := v.Unmarshal(config, CustomHooks...); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

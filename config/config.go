// Package config loads tallyd's settings from tally.yaml and TALLY_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/monzo/terrors"
	"github.com/spf13/viper"

	"github.com/tallyhq/tally"
)

type Config struct {
	Group         string                 `mapstructure:"group"`
	ListenAddr    string                 `mapstructure:"listen_addr"`
	TransportAddr string                 `mapstructure:"transport_addr"`
	QueryTimeout  time.Duration          `mapstructure:"query_timeout"`
	HTTPTimeout   time.Duration          `mapstructure:"http_timeout"`
	InitConfig    map[string]interface{} `mapstructure:"init_config"`
}

// Load reads tally.yaml from path, if there is one, with environment variables taking precedence. Only group has no
// default.
func Load(path string) (config Config, err error) {
	v := viper.New()
	v.SetDefault("group", "")
	v.SetDefault("listen_addr", "")
	v.SetDefault("transport_addr", ":7070")
	v.SetDefault("query_timeout", 5*time.Second)
	v.SetDefault("http_timeout", 10*time.Second)

	v.AddConfigPath(path)
	v.SetConfigName("tally")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("tally")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, terrors.WrapWithCode(err, map[string]string{"path": path}, terrors.ErrBadRequest)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, terrors.WrapWithCode(err, nil, terrors.ErrBadRequest)
	}
	if config.InitConfig == nil {
		config.InitConfig = map[string]interface{}{}
	}
	return config, nil
}

// EndPointConfig is the part of c an EndPoint consumes.
func (c Config) EndPointConfig() tally.ConfigPatch {
	timeout := c.QueryTimeout
	return tally.ConfigPatch{
		InitConfig:   c.InitConfig,
		QueryTimeout: &timeout}
}

package pingd_config

import (
	"github.com/upmon/upmon/internal/httpapi"
	"github.com/upmon/upmon/internal/obs"
	pginfra "github.com/upmon/upmon/internal/repository/postgres"
)

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Config struct {
	DB          pginfra.Config       `mapstructure:"db"`
	HTTP        httpapi.ServerConfig `mapstructure:"http"`
	MetricsAddr string               `mapstructure:"metrics_addr"`
	LogLevel    string               `mapstructure:"log_level"`
	OTEL        OTEL                 `mapstructure:"otel"`
}

package alerter_config

import (
	"time"

	"github.com/upmon/upmon/internal/channel"
	"github.com/upmon/upmon/internal/obs"
	pginfra "github.com/upmon/upmon/internal/repository/postgres"
)

type PoolCfg struct {
	Size        int           `mapstructure:"size"`
	PollTick    time.Duration `mapstructure:"poll_tick"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type ReaperCfg struct {
	Lease time.Duration `mapstructure:"lease"`
	Tick  time.Duration `mapstructure:"tick"`
}

type BackoffCfg struct {
	Base   time.Duration `mapstructure:"base"`
	Max    time.Duration `mapstructure:"max"`
	Jitter float64       `mapstructure:"jitter"`
}

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
	DB          pginfra.Config        `mapstructure:"db"`
	Pool        PoolCfg               `mapstructure:"pool"`
	Reaper      ReaperCfg             `mapstructure:"reaper"`
	Backoff     BackoffCfg            `mapstructure:"backoff"`
	SMTP        channel.SMTPConfig    `mapstructure:"smtp"`
	Webhook     channel.WebhookConfig `mapstructure:"webhook"`
	MetricsAddr string                `mapstructure:"metrics_addr"`
	LogLevel    string                `mapstructure:"log_level"`
	OTEL        OTEL                  `mapstructure:"otel"`
}

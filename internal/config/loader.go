package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultTarget          = "http://localhost:8080"
	defaultUsers           = 100
	defaultRequests        = 20
	defaultTargetRPS       = 1000
	defaultDuration        = 300 * time.Second
	defaultRampUp          = 30 * time.Second
	defaultTimeout         = 10 * time.Second
	defaultMaxConnections  = 100
	defaultMaxBatch        = 1000
	defaultMaxSamples      = 1_000_000
	defaultMonitorPath     = "/metrics"
	defaultMonitorInterval = 5 * time.Second
	envPrefix              = "STAMPEDE"
)

// Loader resolves configuration from defaults, an optional file, STAMPEDE_*
// environment variables and command-line flags, in increasing precedence.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load builds a Config from the parsed flag set. A non-empty scenario
// overrides the scenario named in the file. Unknown keys in the file are
// rejected.
func (Loader) Load(flags *pflag.FlagSet, scenario ScenarioName) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configPath string
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configPath = strings.TrimSpace(f.Value.String())
		}
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if scenario != "" {
		v.Set("scenario", string(scenario))
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.UnmarshalExact(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.ConfigFile = configPath
	cfg.Target = strings.TrimRight(strings.TrimSpace(cfg.Target), "/")
	cfg.Scenario = ScenarioName(strings.ToLower(strings.TrimSpace(string(cfg.Scenario))))
	cfg.Output.Format = OutputFormat(strings.ToLower(string(cfg.Output.Format)))
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultEndpoints()
	}
	for i := range cfg.Endpoints {
		normalizeEndpoint(&cfg.Endpoints[i])
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target", defaultTarget)
	v.SetDefault("scenario", "")
	v.SetDefault("users", defaultUsers)
	v.SetDefault("requests", defaultRequests)
	v.SetDefault("target_rps", defaultTargetRPS)
	v.SetDefault("duration", defaultDuration)
	v.SetDefault("ramp_up", defaultRampUp)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("max_connections", defaultMaxConnections)
	v.SetDefault("max_batch", defaultMaxBatch)
	v.SetDefault("max_samples", defaultMaxSamples)
	v.SetDefault("metrics_listen", "")

	v.SetDefault("data.min_id", 1)
	v.SetDefault("data.max_id", 1_000_000)
	v.SetDefault("data.name_length", 10)
	v.SetDefault("data.phone_prefix", "+1")
	v.SetDefault("data.min_number", 1)
	v.SetDefault("data.max_number", 1000)

	v.SetDefault("output.format", string(OutputText))
	v.SetDefault("output.dir", "")
	v.SetDefault("output.progress", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "stampede")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.propagate", true)

	v.SetDefault("monitor.path", defaultMonitorPath)
	v.SetDefault("monitor.interval", defaultMonitorInterval)
	v.SetDefault("monitor.metrics", []string{"cpp_service_requests_total", "cpp_service_active_connections"})
	v.SetDefault("monitor.history_file", "")
}

// DefaultEndpoints is the traffic mix used when no endpoints are configured:
// 70% record processing, 20% asynchronous processing, 5% health, 5% metrics.
func DefaultEndpoints() []Endpoint {
	jsonHeaders := map[string]string{"Content-Type": "application/json"}
	return []Endpoint{
		{Name: "process", Path: "/process", Method: "POST", Weight: 70, Headers: jsonHeaders, Payload: PayloadRecord, Response: ResponseSuccessFlag},
		{Name: "process-async", Path: "/process-async", Method: "POST", Weight: 20, Headers: jsonHeaders, Payload: PayloadRecord, Response: ResponseSuccessFlag},
		{Name: "health", Path: "/health", Method: "GET", Weight: 5, Payload: PayloadNone, Response: ResponseNone},
		{Name: "metrics", Path: "/metrics", Method: "GET", Weight: 5, Payload: PayloadNone, Response: ResponseNone},
	}
}

func normalizeEndpoint(ep *Endpoint) {
	ep.Method = strings.ToUpper(strings.TrimSpace(ep.Method))
	if ep.Method == "" {
		ep.Method = "GET"
	}
	ep.Path = strings.TrimSpace(ep.Path)
	if ep.Path != "" && !strings.HasPrefix(ep.Path, "/") {
		ep.Path = "/" + ep.Path
	}
	if ep.Payload == "" {
		ep.Payload = PayloadNone
	}
	if ep.Response == "" {
		ep.Response = ResponseNone
	}
}

// secondsToDurationHook treats bare numbers as seconds so "duration: 300"
// means five minutes rather than 300ns.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int32:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case uint64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

package config

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ScenarioName identifies a traffic shape preset.
type ScenarioName string

const (
	ScenarioStress    ScenarioName = "stress"
	ScenarioLoad      ScenarioName = "load"
	ScenarioSpike     ScenarioName = "spike"
	ScenarioEndurance ScenarioName = "endurance"
	ScenarioRPS       ScenarioName = "rps"
	ScenarioRateSpike ScenarioName = "rate_spike"
	ScenarioCustom    ScenarioName = "custom"
)

// Scenarios lists every supported preset in display order.
var Scenarios = []ScenarioName{
	ScenarioStress,
	ScenarioLoad,
	ScenarioSpike,
	ScenarioEndurance,
	ScenarioRPS,
	ScenarioRateSpike,
	ScenarioCustom,
}

type Config struct {
	Target         string        `mapstructure:"target"`
	Scenario       ScenarioName  `mapstructure:"scenario"`
	Users          int           `mapstructure:"users"`
	Requests       int           `mapstructure:"requests"`
	TargetRPS      int           `mapstructure:"target_rps"`
	Duration       time.Duration `mapstructure:"duration"`
	RampUp         time.Duration `mapstructure:"ramp_up"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxBatch       int           `mapstructure:"max_batch"`
	MaxSamples     int           `mapstructure:"max_samples"`
	Endpoints      []Endpoint    `mapstructure:"endpoints"`
	Data           DataConfig    `mapstructure:"data"`
	Phases         []PhaseConfig `mapstructure:"phases"`
	Spike          PresetConfig  `mapstructure:"spike"`
	RateSpike      PresetConfig  `mapstructure:"rate_spike"`
	Thresholds     []string      `mapstructure:"thresholds"`
	MetricsListen  string        `mapstructure:"metrics_listen"`
	Output         OutputConfig  `mapstructure:"output"`
	Log            LogConfig     `mapstructure:"log"`
	Tracing        TracingConfig `mapstructure:"tracing"`
	Monitor        MonitorConfig `mapstructure:"monitor"`
	ConfigFile     string        `mapstructure:"-"`
}

// PayloadKind names the request body an endpoint sends.
type PayloadKind string

const (
	PayloadNone   PayloadKind = "none"
	PayloadRecord PayloadKind = "record"
)

// ResponseContract declares how a 2xx response body is judged.
type ResponseContract string

const (
	ResponseNone        ResponseContract = "none"
	ResponseJSON        ResponseContract = "json"
	ResponseSuccessFlag ResponseContract = "success_flag"
)

type Endpoint struct {
	Name     string            `mapstructure:"name"`
	Path     string            `mapstructure:"path"`
	Method   string            `mapstructure:"method"`
	Weight   int               `mapstructure:"weight"`
	Headers  map[string]string `mapstructure:"headers"`
	Payload  PayloadKind       `mapstructure:"payload"`
	Response ResponseContract  `mapstructure:"response"`
}

// DataConfig bounds the randomized record payload.
type DataConfig struct {
	MinID       int64  `mapstructure:"min_id"`
	MaxID       int64  `mapstructure:"max_id"`
	NameLength  int    `mapstructure:"name_length"`
	PhonePrefix string `mapstructure:"phone_prefix"`
	MinNumber   int    `mapstructure:"min_number"`
	MaxNumber   int    `mapstructure:"max_number"`
}

// PhaseConfig describes one scenario segment. Exactly one of Concurrency or
// Rate is set.
// PhaseConfig is one phase of a scenario. A phase with Batches set runs that
// many batches back to back; Duration then only caps it and may be zero.
type PhaseConfig struct {
	Name        string        `mapstructure:"name"`
	Concurrency int           `mapstructure:"concurrency"`
	Rate        int           `mapstructure:"rate"`
	Duration    time.Duration `mapstructure:"duration"`
	Batches     int           `mapstructure:"batches"`
}

// PresetConfig overrides the built-in phases of a preset.
type PresetConfig struct {
	Phases []PhaseConfig `mapstructure:"phases"`
}

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

type OutputConfig struct {
	Format   OutputFormat  `mapstructure:"format"`
	Dir      string        `mapstructure:"dir"`
	Progress time.Duration `mapstructure:"progress"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   bool    `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

type MonitorConfig struct {
	Path        string        `mapstructure:"path"`
	Interval    time.Duration `mapstructure:"interval"`
	Metrics     []string      `mapstructure:"metrics"`
	HistoryFile string        `mapstructure:"history_file"`
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateTarget(c.Target)...)

	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be > 0")
	}
	if c.MaxConnections < 1 {
		issues = append(issues, "max_connections must be >= 1")
	}
	if c.MaxBatch < 1 {
		issues = append(issues, "max_batch must be >= 1")
	}
	if c.MaxSamples < 0 {
		issues = append(issues, "max_samples must be >= 0")
	}
	if c.Users < 0 {
		issues = append(issues, "users must be >= 0")
	}
	if c.Requests < 0 {
		issues = append(issues, "requests must be >= 0")
	}
	if c.TargetRPS < 0 {
		issues = append(issues, "target_rps must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.RampUp < 0 {
		issues = append(issues, "ramp_up must be >= 0")
	}

	issues = append(issues, validateEndpoints(c.Endpoints)...)
	issues = append(issues, validateData(c.Data)...)
	issues = append(issues, validateScenario(c)...)
	issues = append(issues, validateOutput(c.Output)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: unsupported protocol %q", c.Tracing.Protocol))
	}
	if c.Monitor.Interval < 0 {
		issues = append(issues, "monitor: interval must be >= 0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTarget(target string) []string {
	target = strings.TrimSpace(target)
	if target == "" {
		return []string{"target is required (use --help for usage information)"}
	}
	u, err := url.Parse(target)
	if err != nil {
		return []string{fmt.Sprintf("target %q is not a valid URL: %v", target, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []string{fmt.Sprintf("target %q must use http or https", target)}
	}
	if u.Host == "" {
		return []string{fmt.Sprintf("target %q has no host", target)}
	}
	return nil
}

func validateEndpoints(endpoints []Endpoint) []string {
	var issues []string
	if len(endpoints) == 0 {
		return []string{"endpoints: at least one endpoint is required"}
	}
	seenNames := map[string]int{}
	for idx, ep := range endpoints {
		if ep.Weight <= 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: weight must be >= 1", idx))
		}
		if strings.TrimSpace(ep.Path) == "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: path is required", idx))
		}
		switch strings.ToUpper(strings.TrimSpace(ep.Method)) {
		case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions:
		default:
			issues = append(issues, fmt.Sprintf("endpoints[%d]: unsupported method %q", idx, ep.Method))
		}
		switch ep.Payload {
		case "", PayloadNone, PayloadRecord:
		default:
			issues = append(issues, fmt.Sprintf("endpoints[%d]: unsupported payload %q", idx, ep.Payload))
		}
		switch ep.Response {
		case "", ResponseNone, ResponseJSON, ResponseSuccessFlag:
		default:
			issues = append(issues, fmt.Sprintf("endpoints[%d]: unsupported response contract %q", idx, ep.Response))
		}
		for key, value := range ep.Headers {
			if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
				issues = append(issues, fmt.Sprintf("endpoints[%d]: invalid header key %q", idx, key))
			}
			if strings.ContainsAny(value, "\r\n") {
				issues = append(issues, fmt.Sprintf("endpoints[%d]: invalid header value for %s", idx, key))
			}
		}
		name := strings.ToLower(strings.TrimSpace(ep.DisplayName()))
		if prev, ok := seenNames[name]; ok {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: duplicate name also defined at index %d", idx, prev))
		} else {
			seenNames[name] = idx
		}
	}
	return issues
}

func validateData(d DataConfig) []string {
	var issues []string
	if d.MinID > d.MaxID {
		issues = append(issues, "data: min_id must be <= max_id")
	} else if !IDRangeFits(d.MinID, d.MaxID) {
		issues = append(issues, "data: min_id..max_id spans more values than an int64 can count")
	}
	if d.NameLength < 1 {
		issues = append(issues, "data: name_length must be >= 1")
	}
	if d.MinNumber > d.MaxNumber {
		issues = append(issues, "data: min_number must be <= max_number")
	} else if !NumberRangeFits(d.MinNumber, d.MaxNumber) {
		issues = append(issues, "data: min_number..max_number spans more values than an int can count")
	}
	return issues
}

// IDRangeFits reports whether the inclusive range [lo, hi] holds at most
// math.MaxInt64 values. Wider ranges cannot be sampled uniformly.
func IDRangeFits(lo, hi int64) bool {
	return lo <= hi && uint64(hi)-uint64(lo) < math.MaxInt64
}

// NumberRangeFits is IDRangeFits for int bounds.
func NumberRangeFits(lo, hi int) bool {
	return lo <= hi && uint(hi)-uint(lo) < math.MaxInt
}

func validateScenario(c Config) []string {
	switch c.Scenario {
	case ScenarioStress:
		var issues []string
		if c.Users < 1 {
			issues = append(issues, "stress: users must be >= 1")
		}
		if c.Duration <= 0 {
			issues = append(issues, "stress: duration must be > 0")
		}
		if c.RampUp > c.Duration {
			issues = append(issues, "stress: ramp_up must be <= duration")
		}
		return issues
	case ScenarioLoad:
		var issues []string
		if c.Users < 1 {
			issues = append(issues, "load: users must be >= 1")
		}
		if c.Requests < 1 {
			issues = append(issues, "load: requests must be >= 1")
		}
		return issues
	case ScenarioEndurance:
		var issues []string
		if c.Users < 1 {
			issues = append(issues, "endurance: users must be >= 1")
		}
		if c.Duration <= 0 {
			issues = append(issues, "endurance: duration must be > 0")
		}
		return issues
	case ScenarioRPS:
		var issues []string
		if c.TargetRPS < 1 {
			issues = append(issues, "rps: target_rps must be >= 1")
		}
		if c.Duration <= 0 {
			issues = append(issues, "rps: duration must be > 0")
		}
		return issues
	case ScenarioSpike:
		if len(c.Spike.Phases) > 0 {
			return validatePhases("spike.phases", c.Spike.Phases)
		}
		if c.Users < 1 {
			return []string{"spike: users must be >= 1"}
		}
		return nil
	case ScenarioRateSpike:
		if len(c.RateSpike.Phases) > 0 {
			return validatePhases("rate_spike.phases", c.RateSpike.Phases)
		}
		return nil
	case ScenarioCustom:
		if len(c.Phases) == 0 {
			return []string{"custom: phases are required"}
		}
		return validatePhases("phases", c.Phases)
	case "":
		return []string{"scenario is required"}
	default:
		return []string{fmt.Sprintf("scenario %q is not supported", c.Scenario)}
	}
}

func validatePhases(label string, phases []PhaseConfig) []string {
	var issues []string
	for idx, p := range phases {
		switch {
		case p.Batches < 0:
			issues = append(issues, fmt.Sprintf("%s[%d]: batches must be >= 0", label, idx))
		case p.Duration < 0 || (p.Duration == 0 && p.Batches == 0):
			issues = append(issues, fmt.Sprintf("%s[%d]: duration must be > 0", label, idx))
		}
		switch {
		case p.Concurrency < 0 || p.Rate < 0:
			issues = append(issues, fmt.Sprintf("%s[%d]: concurrency and rate must be >= 0", label, idx))
		case p.Concurrency > 0 && p.Rate > 0:
			issues = append(issues, fmt.Sprintf("%s[%d]: concurrency and rate are mutually exclusive", label, idx))
		case p.Concurrency == 0 && p.Rate == 0:
			issues = append(issues, fmt.Sprintf("%s[%d]: one of concurrency or rate is required", label, idx))
		}
	}
	return issues
}

func validateOutput(o OutputConfig) []string {
	var issues []string
	switch o.Format {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output: unsupported format %q", o.Format))
	}
	if o.Progress < 0 {
		issues = append(issues, "output: progress interval must be >= 0")
	}
	return issues
}

// DisplayName is the name used in reports: the configured name, or
// "METHOD path" when none is set.
func (e Endpoint) DisplayName() string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	method := strings.ToUpper(strings.TrimSpace(e.Method))
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + strings.TrimSpace(e.Path)
}

package config_test

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/torosent/stampede/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Target:         "http://localhost:8080",
		Scenario:       config.ScenarioEndurance,
		Users:          10,
		Duration:       time.Minute,
		Timeout:        time.Second,
		MaxConnections: 10,
		MaxBatch:       100,
		Endpoints:      config.DefaultEndpoints(),
		Data: config.DataConfig{
			MinID: 1, MaxID: 10, NameLength: 5, MinNumber: 1, MaxNumber: 10,
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateCollectsIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing target", func(c *config.Config) { c.Target = "" }, "target is required"},
		{"bad scheme", func(c *config.Config) { c.Target = "ftp://host" }, "must use http or https"},
		{"zero timeout", func(c *config.Config) { c.Timeout = 0 }, "timeout must be > 0"},
		{"zero pool", func(c *config.Config) { c.MaxConnections = 0 }, "max_connections must be >= 1"},
		{"zero batch", func(c *config.Config) { c.MaxBatch = 0 }, "max_batch must be >= 1"},
		{"empty catalog", func(c *config.Config) { c.Endpoints = nil }, "at least one endpoint"},
		{"zero weight", func(c *config.Config) { c.Endpoints[0].Weight = 0 }, "weight must be >= 1"},
		{"bad method", func(c *config.Config) { c.Endpoints[0].Method = "BREW" }, "unsupported method"},
		{"bad payload", func(c *config.Config) { c.Endpoints[0].Payload = "xml" }, "unsupported payload"},
		{"bad contract", func(c *config.Config) { c.Endpoints[0].Response = "maybe" }, "unsupported response contract"},
		{"duplicate names", func(c *config.Config) { c.Endpoints[1].Name = "PROCESS" }, "duplicate name"},
		{"inverted ids", func(c *config.Config) { c.Data.MinID = 100 }, "min_id must be <= max_id"},
		{"id range too wide", func(c *config.Config) { c.Data.MinID = math.MinInt64 }, "min_id..max_id spans"},
		{"number range too wide", func(c *config.Config) {
			c.Data.MinNumber = math.MinInt
			c.Data.MaxNumber = math.MaxInt
		}, "min_number..max_number spans"},
		{"zero duration", func(c *config.Config) { c.Duration = 0 }, "endurance: duration must be > 0"},
		{"zero users", func(c *config.Config) { c.Users = 0 }, "endurance: users must be >= 1"},
		{"load without requests", func(c *config.Config) {
			c.Scenario = config.ScenarioLoad
			c.Requests = 0
		}, "load: requests must be >= 1"},
		{"negative requests", func(c *config.Config) { c.Requests = -1 }, "requests must be >= 0"},
		{"unknown scenario", func(c *config.Config) { c.Scenario = "soak" }, "not supported"},
		{"custom without phases", func(c *config.Config) { c.Scenario = config.ScenarioCustom }, "phases are required"},
		{"bad output", func(c *config.Config) { c.Output.Format = "csv" }, "unsupported format"},
		{"bad sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"ramp exceeds duration", func(c *config.Config) {
			c.Scenario = config.ScenarioStress
			c.RampUp = 2 * time.Minute
		}, "ramp_up must be <= duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestValidatePhases(t *testing.T) {
	cfg := validConfig()
	cfg.Scenario = config.ScenarioCustom
	cfg.Phases = []config.PhaseConfig{
		{Concurrency: 5, Rate: 5, Duration: time.Second},
		{Duration: time.Second},
		{Concurrency: 1},
		{Concurrency: 1, Batches: -2},
		{Concurrency: 1, Batches: 3},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T", err)
	}
	if got := len(verr.Issues()); got != 4 {
		t.Errorf("issues = %v, want 4", verr.Issues())
	}
}

func TestBuildPhasesStress(t *testing.T) {
	cfg := validConfig()
	cfg.Scenario = config.ScenarioStress
	cfg.Users = 10
	cfg.Duration = 60 * time.Second
	cfg.RampUp = 10 * time.Second

	phases, err := cfg.BuildPhases()
	if err != nil {
		t.Fatalf("BuildPhases() error = %v", err)
	}
	wantConcurrency := []int{2, 4, 6, 8, 10, 10}
	if len(phases) != len(wantConcurrency) {
		t.Fatalf("phases = %+v", phases)
	}
	for i, want := range wantConcurrency {
		if phases[i].Concurrency != want {
			t.Errorf("phase %d concurrency = %d, want %d", i, phases[i].Concurrency, want)
		}
	}
	if phases[0].Duration != 2*time.Second {
		t.Errorf("stage duration = %s, want 2s", phases[0].Duration)
	}
	if phases[5].Duration != 50*time.Second {
		t.Errorf("main duration = %s, want 50s", phases[5].Duration)
	}
}

func TestBuildPhasesStressDropsEmptyStages(t *testing.T) {
	cfg := validConfig()
	cfg.Scenario = config.ScenarioStress
	cfg.Users = 2
	cfg.Duration = 10 * time.Second
	cfg.RampUp = 5 * time.Second

	phases, err := cfg.BuildPhases()
	if err != nil {
		t.Fatalf("BuildPhases() error = %v", err)
	}
	for _, p := range phases {
		if p.Concurrency == 0 {
			t.Fatalf("phase with zero concurrency kept: %+v", p)
		}
	}
	// users*stage/5 is 0 for stages 1 and 2.
	if len(phases) != 4 {
		t.Errorf("phases = %d, want 4", len(phases))
	}
}

func TestBuildPhasesSpikeDefaultsAlternate(t *testing.T) {
	cfg := validConfig()
	cfg.Scenario = config.ScenarioSpike
	cfg.Users = 10

	phases, err := cfg.BuildPhases()
	if err != nil {
		t.Fatalf("BuildPhases() error = %v", err)
	}
	want := []int{5, 30, 5, 50, 5}
	for i, w := range want {
		if phases[i].Concurrency != w {
			t.Errorf("phase %d concurrency = %d, want %d", i, phases[i].Concurrency, w)
		}
	}
}

func TestBuildPhasesRateScenarios(t *testing.T) {
	cfg := validConfig()
	cfg.Scenario = config.ScenarioRPS
	cfg.TargetRPS = 50
	phases, err := cfg.BuildPhases()
	if err != nil {
		t.Fatalf("BuildPhases() error = %v", err)
	}
	if len(phases) != 1 || phases[0].Rate != 50 || phases[0].Concurrency != 0 {
		t.Errorf("rps phases = %+v", phases)
	}

	cfg.Scenario = config.ScenarioRateSpike
	phases, err = cfg.BuildPhases()
	if err != nil {
		t.Fatalf("BuildPhases() error = %v", err)
	}
	if len(phases) != 5 || phases[2].Rate != 500 {
		t.Errorf("rate_spike phases = %+v", phases)
	}
}

func TestBuildPhasesLoad(t *testing.T) {
	tests := []struct {
		name            string
		users, requests int
	}{
		{"light", 10, 20},
		{"medium", 50, 40},
		{"heavy", 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Scenario = config.ScenarioLoad
			cfg.Users = tt.users
			cfg.Requests = tt.requests
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			phases, err := cfg.BuildPhases()
			if err != nil {
				t.Fatalf("BuildPhases() error = %v", err)
			}
			want := config.PhaseConfig{Name: "load", Concurrency: tt.users, Batches: tt.requests}
			if len(phases) != 1 || phases[0] != want {
				t.Errorf("phases = %+v, want [%+v]", phases, want)
			}
		})
	}
}

func TestBuildPhasesNothingRunnable(t *testing.T) {
	cfg := validConfig()
	cfg.Scenario = config.ScenarioEndurance
	cfg.Users = 0
	if _, err := cfg.BuildPhases(); err == nil {
		t.Fatal("expected error when every phase is empty")
	}
}

func TestEndpointDisplayName(t *testing.T) {
	if got := (config.Endpoint{Path: "/health"}).DisplayName(); got != "GET /health" {
		t.Errorf("DisplayName() = %q", got)
	}
	if got := (config.Endpoint{Name: "write", Path: "/p"}).DisplayName(); got != "write" {
		t.Errorf("DisplayName() = %q", got)
	}
}

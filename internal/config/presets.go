package config

import (
	"fmt"
	"time"
)

const stressStages = 5

// BuildPhases expands the configured scenario into its ordered phase list.
// Phases whose concurrency rounds down to zero are dropped.
func (c Config) BuildPhases() ([]PhaseConfig, error) {
	var phases []PhaseConfig
	switch c.Scenario {
	case ScenarioStress:
		phases = stressPhases(c.Users, c.Duration, c.RampUp)
	case ScenarioLoad:
		phases = []PhaseConfig{{Name: "load", Concurrency: c.Users, Batches: c.Requests}}
	case ScenarioSpike:
		if len(c.Spike.Phases) > 0 {
			phases = append(phases, c.Spike.Phases...)
		} else {
			phases = spikePhases(c.Users)
		}
	case ScenarioEndurance:
		phases = []PhaseConfig{{Name: "endurance", Concurrency: c.Users, Duration: c.Duration}}
	case ScenarioRPS:
		phases = []PhaseConfig{{Name: "rps", Rate: c.TargetRPS, Duration: c.Duration}}
	case ScenarioRateSpike:
		if len(c.RateSpike.Phases) > 0 {
			phases = append(phases, c.RateSpike.Phases...)
		} else {
			phases = rateSpikePhases()
		}
	case ScenarioCustom:
		phases = append(phases, c.Phases...)
	default:
		return nil, fmt.Errorf("scenario %q is not supported", c.Scenario)
	}

	kept := phases[:0]
	for _, p := range phases {
		if (p.Duration <= 0 && p.Batches <= 0) || (p.Concurrency <= 0 && p.Rate <= 0) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("scenario %q produced no runnable phases", c.Scenario)
	}
	return kept, nil
}

// stressPhases ramps up in five equal stages to the full user count, then
// holds it for the rest of the duration.
func stressPhases(users int, duration, rampUp time.Duration) []PhaseConfig {
	phases := make([]PhaseConfig, 0, stressStages+1)
	stageDuration := rampUp / stressStages
	for stage := 1; stage <= stressStages; stage++ {
		phases = append(phases, PhaseConfig{
			Name:        fmt.Sprintf("ramp-%d", stage),
			Concurrency: users * stage / stressStages,
			Duration:    stageDuration,
		})
	}
	phases = append(phases, PhaseConfig{
		Name:        "main",
		Concurrency: users,
		Duration:    duration - rampUp,
	})
	return phases
}

func spikePhases(users int) []PhaseConfig {
	return []PhaseConfig{
		{Name: "baseline", Concurrency: users / 2, Duration: 60 * time.Second},
		{Name: "spike", Concurrency: users * 3, Duration: 10 * time.Second},
		{Name: "recovery", Concurrency: users / 2, Duration: 120 * time.Second},
		{Name: "extreme-spike", Concurrency: users * 5, Duration: 10 * time.Second},
		{Name: "cool-down", Concurrency: users / 2, Duration: 60 * time.Second},
	}
}

func rateSpikePhases() []PhaseConfig {
	return []PhaseConfig{
		{Name: "warm-up", Rate: 10, Duration: 10 * time.Second},
		{Name: "low", Rate: 50, Duration: 10 * time.Second},
		{Name: "spike", Rate: 500, Duration: 5 * time.Second},
		{Name: "sustain", Rate: 100, Duration: 10 * time.Second},
		{Name: "cool-down", Rate: 20, Duration: 5 * time.Second},
	}
}

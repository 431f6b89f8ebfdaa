package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flocklab/flockd/mods/control"
	"github.com/flocklab/flockd/mods/guidance"
	"github.com/flocklab/flockd/mods/stats"
)

// Topics names the event topics the core publishes and subscribes on. The
// same names are used on the in-process bus and, prefixed or not, on the
// wire transport.
type Topics struct {
	Shared   string `yaml:"shared"`
	Received string `yaml:"received"`
	Target   string `yaml:"target"`
	Poses    string `yaml:"poses"`
}

// DefaultTopics returns the conventional topic names.
func DefaultTopics() Topics {
	return Topics{
		Shared:   "stats/shared",
		Received: "stats/received",
		Target:   "stats/target",
		Poses:    "poses",
	}
}

// Config is the immutable configuration of one agent. It is resolved once at
// startup; the core never mutates it.
type Config struct {
	AgentID    int     `yaml:"id"`
	SampleTime float64 `yaml:"sampleTime"`
	Neighbors  []int   `yaml:"neighbors"`

	Control  control.Gains  `yaml:"control"`
	Guidance guidance.Gains `yaml:"guidance"`

	VehicleLength float64 `yaml:"vehicleLength"`

	// WorldLimit bounds the random initial position when X/Y/Theta are not
	// given explicitly.
	WorldLimit float64  `yaml:"worldLimit"`
	X          *float64 `yaml:"x"`
	Y          *float64 `yaml:"y"`
	Theta      *float64 `yaml:"theta"`

	// Target is the initial commanded statistics, replaceable at runtime
	// through the target topic.
	Target stats.Statistics `yaml:"target"`

	Topics Topics `yaml:"topics"`
}

// DefaultConfig mirrors the reference controller's default parameter set.
func DefaultConfig() Config {
	return Config{
		SampleTime: 0.1,
		Control: control.Gains{
			Gamma:             []float64{1, 1, 1, 1, 1},
			Lambda:            []float64{0, 0, 0, 0, 0},
			B:                 []float64{1, 1},
			VelocityThreshold: 2.0,
		},
		Guidance: guidance.Gains{
			KpSpeed:              1.0,
			KiSpeed:              0.2,
			KpSteer:              1.5,
			SpeedMin:             0.0,
			SpeedMax:             1.0,
			SteerMin:             -0.52,
			SteerMax:             0.52,
			LOSDistanceThreshold: 1.5,
		},
		VehicleLength: 0.4,
		WorldLimit:    2.0,
		Topics:        DefaultTopics(),
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline can not run with.
func (c *Config) Validate() error {
	if c.SampleTime <= 0 {
		return fmt.Errorf("sample time must be positive, got %f", c.SampleTime)
	}
	if c.VehicleLength <= 0 {
		return fmt.Errorf("vehicle length must be positive, got %f", c.VehicleLength)
	}
	if c.Guidance.LOSDistanceThreshold <= 0 {
		return fmt.Errorf("LOS distance threshold must be positive, got %f", c.Guidance.LOSDistanceThreshold)
	}
	if c.Guidance.SpeedMax < c.Guidance.SpeedMin {
		return fmt.Errorf("speed limits are inverted: [%f, %f]", c.Guidance.SpeedMin, c.Guidance.SpeedMax)
	}
	if c.Guidance.SteerMax < c.Guidance.SteerMin {
		return fmt.Errorf("steer limits are inverted: [%f, %f]", c.Guidance.SteerMin, c.Guidance.SteerMax)
	}
	for _, id := range c.Neighbors {
		if id == c.AgentID {
			return fmt.Errorf("agent %d lists itself as a neighbor", c.AgentID)
		}
	}
	return nil
}

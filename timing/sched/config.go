package sched

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/psylab/psycore/timing/mem"
	"github.com/psylab/psycore/timing/pipeline"
)

// FileConfig is the on-disk machine configuration. Policy fields use
// their string names; omitted fields take defaults.
type FileConfig struct {
	NumCores       int         `json:"num_cores,omitempty"`
	Hierarchy      *mem.Config `json:"hierarchy,omitempty"`
	HazardPolicy   string      `json:"hazard_policy,omitempty"`
	BranchStrategy string      `json:"branch_strategy,omitempty"`
	MaxCycles      uint64      `json:"max_cycles,omitempty"`
	HaltOnFault    bool        `json:"halt_on_fault,omitempty"`
}

// Resolve turns a file configuration into a validated Config.
func (f FileConfig) Resolve() (Config, error) {
	config := DefaultConfig()
	if f.NumCores > 0 {
		config.NumCores = f.NumCores
	}
	if f.Hierarchy != nil {
		config.Core.Hierarchy = *f.Hierarchy
	}
	policy, err := pipeline.ParseHazardPolicy(f.HazardPolicy)
	if err != nil {
		return Config{}, err
	}
	config.Core.HazardPolicy = policy
	strategy, err := pipeline.ParseBranchStrategy(f.BranchStrategy)
	if err != nil {
		return Config{}, err
	}
	config.Core.BranchStrategy = strategy
	config.MaxCycles = f.MaxCycles
	config.HaltOnFault = f.HaltOnFault

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads a machine configuration from a JSON file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	var f FileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return f.Resolve()
}

// SaveConfig writes a machine configuration to a JSON file.
func SaveConfig(path string, config Config) error {
	hier := config.Core.Hierarchy
	f := FileConfig{
		NumCores:       config.NumCores,
		Hierarchy:      &hier,
		HazardPolicy:   config.Core.HazardPolicy.String(),
		BranchStrategy: config.Core.BranchStrategy.String(),
		MaxCycles:      config.MaxCycles,
		HaltOnFault:    config.HaltOnFault,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

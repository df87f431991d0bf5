package isa

import (
	"encoding/json"
	"fmt"
	"os"
)

// TableConfig is the JSON load format for an instruction-set table. Each
// entry names a registered mnemonic and binds it to an opcode and a
// per-stage cost vector. Omitted costs default to 1 cycle.
type TableConfig struct {
	Entries []EntryConfig `json:"entries"`
}

// EntryConfig is one opcode binding in a TableConfig.
type EntryConfig struct {
	Mnemonic string      `json:"mnemonic"`
	Opcode   uint8       `json:"opcode"`
	Costs    CostsConfig `json:"costs"`
}

// CostsConfig holds per-stage cycle costs. Zero means "default of 1".
type CostsConfig struct {
	Fetch     uint64 `json:"fetch,omitempty"`
	Decode    uint64 `json:"decode,omitempty"`
	Execute   uint64 `json:"execute,omitempty"`
	Memory    uint64 `json:"memory,omitempty"`
	Writeback uint64 `json:"writeback,omitempty"`
}

func (c CostsConfig) stageCosts() StageCosts {
	costs := UniformCosts(1)
	if c.Fetch > 0 {
		costs[StageFetch] = c.Fetch
	}
	if c.Decode > 0 {
		costs[StageDecode] = c.Decode
	}
	if c.Execute > 0 {
		costs[StageExecute] = c.Execute
	}
	if c.Memory > 0 {
		costs[StageMemory] = c.Memory
	}
	if c.Writeback > 0 {
		costs[StageWriteback] = c.Writeback
	}
	return costs
}

// Build resolves the config against the semantics registry and validates
// the resulting table. Unknown mnemonics and encoding collisions fail with
// a *ValidationError before any simulation can start.
func (c *TableConfig) Build() (*Table, error) {
	entries := make([]Entry, 0, len(c.Entries))
	for _, ec := range c.Entries {
		e, err := entryFor(Opcode(ec.Opcode), ec.Mnemonic, ec.Costs.stageCosts())
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return NewTable(entries)
}

// LoadTable reads a TableConfig from a JSON file and builds the table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruction set file: %w", err)
	}

	var config TableConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse instruction set file: %w", err)
	}

	return config.Build()
}

// SaveConfig writes the table's opcode bindings to a JSON file, so a
// default table can be dumped, edited, and reloaded.
func (t *Table) SaveConfig(path string) error {
	config := TableConfig{}
	for _, e := range t.Entries() {
		config.Entries = append(config.Entries, EntryConfig{
			Mnemonic: e.Mnemonic,
			Opcode:   uint8(e.Opcode),
			Costs: CostsConfig{
				Fetch:     e.Costs[StageFetch],
				Decode:    e.Costs[StageDecode],
				Execute:   e.Costs[StageExecute],
				Memory:    e.Costs[StageMemory],
				Writeback: e.Costs[StageWriteback],
			},
		})
	}

	data, err := json.MarshalIndent(&config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize instruction set: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write instruction set file: %w", err)
	}

	return nil
}

package main

import (
	"os"

	"github.com/pelletier/go-toml"
)

// GeometryPreset names one (page size, page count, erase budget) geometry
// read from a presets file. Presets are only printed by -list-presets;
// fuzz and soak runs take their geometry from entropy and do not consult
// them.
type GeometryPreset struct {
	Name          string `toml:"name"`
	PageSize      int    `toml:"page_size"`
	NumPages      int    `toml:"num_pages"`
	MaxPageErases int    `toml:"max_page_erases"`
}

type presetsFile struct {
	Preset []GeometryPreset `toml:"preset"`
}

// LoadPresets reads named geometry presets from a TOML file such as:
//
//	[[preset]]
//	name = "tiny"
//	page_size = 128
//	num_pages = 3
//	max_page_erases = 5
//
// using the same config-parsing library the teacher's go.mod carries
// (github.com/pelletier/go-toml), repurposed here from the teacher's
// execution-context query trees to a flat settings file.
func LoadPresets(path string) ([]GeometryPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg presetsFile
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg.Preset, nil
}

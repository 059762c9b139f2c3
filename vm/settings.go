package bci

import (
	"os"

	"sigs.k8s.io/yaml"
)

// Settings are the machine tunables. The tiny default sizes exist so
// collection and stack growth are exercised early rather than only under
// large workloads.
type Settings struct {
	// Allocations before the first collection. The heap capacity is
	// multiplied by HeapGrowthFactor whenever a collection leaves it at or
	// above HeapGrowthThreshold of capacity.
	InitialHeapSize     int     `json:"initialHeapSize"`
	HeapGrowthFactor    int     `json:"heapGrowthFactor"`
	HeapGrowthThreshold float64 `json:"heapGrowthThreshold"`

	// Evaluation stack slots at startup; doubles when full.
	InitialStackSize int `json:"initialStackSize"`

	// ForceGC collects on every allocation and before every instruction.
	// Used when memory issues are encountered or when changes are made to
	// the collector.
	ForceGC bool `json:"forceGC"`

	// DebugGC logs every mark and release; TimeGC logs phase durations and
	// collection counts. Both log to stderr, away from program output.
	DebugGC bool `json:"debugGC"`
	TimeGC  bool `json:"timeGC"`
}

func DefaultSettings() Settings {
	return Settings{
		InitialHeapSize:     2,
		HeapGrowthFactor:    2,
		HeapGrowthThreshold: 0.75,
		InitialStackSize:    2,
	}
}

// LoadSettings reads a YAML settings file. Absent keys keep their defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, err
	}

	return settings.normalise(), nil
}

func (s Settings) normalise() Settings {
	if s.InitialHeapSize < 1 {
		s.InitialHeapSize = 1
	}
	if s.HeapGrowthFactor < 2 {
		s.HeapGrowthFactor = 2
	}
	if s.HeapGrowthThreshold <= 0 || s.HeapGrowthThreshold > 1 {
		s.HeapGrowthThreshold = 0.75
	}
	if s.InitialStackSize < 1 {
		s.InitialStackSize = 1
	}
	return s
}

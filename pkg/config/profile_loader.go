package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is one deployment profile: tuning knobs for the consumer and
// watchdog plus the observability wiring, loaded from profile_<name>.yaml.
type Profile struct {
	Name          string              `yaml:"name" json:"name"`
	Consumer      ConsumerTuning      `yaml:"consumer" json:"consumer"`
	Watchdog      WatchdogTuning      `yaml:"watchdog" json:"watchdog"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ConsumerTuning controls the message consumer.
type ConsumerTuning struct {
	Workers                 int     `yaml:"workers" json:"workers"`
	DLQSampleBps            int     `yaml:"dlq_sample_bps" json:"dlq_sample_bps"`
	DeliveryWritesPerSecond float64 `yaml:"delivery_writes_per_second" json:"delivery_writes_per_second"`
}

// WatchdogTuning controls the anomaly sweeps.
type WatchdogTuning struct {
	Tenants        []string `yaml:"tenants" json:"tenants"`
	SweepIntervalS float64  `yaml:"sweep_interval_s" json:"sweep_interval_s"`
}

// ObservabilityConfig is the profile slice of the OTel provider config.
type ObservabilityConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
	Insecure   bool    `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// defaults fills unset tuning values so a sparse profile stays usable.
func (p *Profile) defaults() {
	if p.Consumer.Workers <= 0 {
		p.Consumer.Workers = 4
	}
	if p.Consumer.DLQSampleBps <= 0 {
		p.Consumer.DLQSampleBps = 500
	}
	if p.Consumer.DeliveryWritesPerSecond <= 0 {
		p.Consumer.DeliveryWritesPerSecond = 50
	}
	if p.Watchdog.SweepIntervalS <= 0 {
		p.Watchdog.SweepIntervalS = 60
	}
	if p.Observability.SampleRate <= 0 {
		p.Observability.SampleRate = 1.0
	}
}

// LoadProfile loads profile_<name>.yaml from the profiles directory.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	profile.defaults()
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by profile name.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profile.defaults()
		profiles[profile.Name] = &profile
	}
	return profiles, nil
}

package rq

import (
	"time"

	"github.com/pkg/errors"
)

// Configuration is the struct for rq configs. Durations are Go duration strings such as "500ms" or "5m".
// Empty values take the package defaults.
type Configuration struct {
	RedisName                string `yaml:"redisName" json:"redisName"`
	Service                  string `yaml:"service" json:"service"`
	Queue                    string `yaml:"queue" json:"queue"`
	PollInterval             string `yaml:"pollInterval" json:"pollInterval"`
	PopTimeout               string `yaml:"popTimeout" json:"popTimeout"`
	DefaultTimeout           string `yaml:"defaultTimeout" json:"defaultTimeout"`
	ReclaimInterval          string `yaml:"reclaimInterval" json:"reclaimInterval"`
	ActiveReclaimInterval    string `yaml:"activeReclaimInterval" json:"activeReclaimInterval"`
	ReclaimIncrement         string `yaml:"reclaimIncrement" json:"reclaimIncrement"`
	ScanWindow               int    `yaml:"scanWindow" json:"scanWindow"`
	CheckQueueLengthInterval string `yaml:"checkQueueLengthInterval" json:"checkQueueLengthInterval"`
}

// settings is a validated Configuration.
type settings struct {
	pollInterval             time.Duration
	popTimeout               time.Duration
	defaultTimeout           time.Duration
	reclaimInterval          time.Duration
	activeReclaimInterval    time.Duration
	reclaimIncrement         time.Duration
	scanWindow               int
	checkQueueLengthInterval time.Duration
}

func (c Configuration) settings() (settings, error) {
	s := settings{scanWindow: c.ScanWindow}
	if s.scanWindow < 0 {
		return s, errors.Errorf("scanWindow must not be negative, got %d", c.ScanWindow)
	}
	if s.scanWindow == 0 {
		s.scanWindow = DefaultScanWindow
	}
	fields := []struct {
		name     string
		value    string
		def      time.Duration
		positive bool
		target   *time.Duration
	}{
		{"pollInterval", c.PollInterval, DefaultPollInterval, true, &s.pollInterval},
		{"popTimeout", c.PopTimeout, 0, false, &s.popTimeout},
		{"defaultTimeout", c.DefaultTimeout, DefaultTimeout, true, &s.defaultTimeout},
		{"reclaimInterval", c.ReclaimInterval, DefaultReclaimInterval, true, &s.reclaimInterval},
		{"activeReclaimInterval", c.ActiveReclaimInterval, DefaultActiveReclaimInterval, true, &s.activeReclaimInterval},
		{"reclaimIncrement", c.ReclaimIncrement, DefaultReclaimIncrement, true, &s.reclaimIncrement},
		{"checkQueueLengthInterval", c.CheckQueueLengthInterval, 15 * time.Second, true, &s.checkQueueLengthInterval},
	}
	for _, f := range fields {
		if f.value == "" {
			*f.target = f.def
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return s, errors.Wrapf(err, "invalid %s", f.name)
		}
		if d < 0 || (f.positive && d == 0) {
			return s, errors.Errorf("invalid %s: %s", f.name, f.value)
		}
		*f.target = d
	}
	return s, nil
}

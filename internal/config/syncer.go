package config

import "time"

// SyncerConfig controls the background hydrator that refreshes the
// decision cache ahead of TTL expiry.
type SyncerConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"true"`
	Interval time.Duration `envconfig:"INTERVAL" default:"30s" validate:"gt=0"`
}

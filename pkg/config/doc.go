// Package config loads the daemon's YAML configuration. Every field is
// optional; absent fields take the defaults from Default. Field constraints
// are declared as struct tags and checked on load.
package config

// Package config reads daemon configuration from the environment.
package config

import "time"

// Config for daemon setup.
type Config interface {
	StorageDriver() string
	SQLitePath() string
	PostgresDSN() (string, error)
	ListenAddr() string
	PollSpec() string
	ReminderBuffer() (time.Duration, error)
	PushoverAPIToken() (string, error)
	PushoverUserToken() (string, error)
	Environment() string
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Environment variable names.
const (
	StorageDriverEnv     = "MEDTRACK_STORAGE_DRIVER"
	SQLitePathEnv        = "MEDTRACK_SQLITE_PATH"
	PostgresDSNEnv       = "MEDTRACK_POSTGRES_DSN"
	ListenAddrEnv        = "MEDTRACK_LISTEN_ADDR"
	PollSpecEnv          = "MEDTRACK_POLL_SPEC"
	ReminderBufferEnv    = "MEDTRACK_REMINDER_BUFFER"
	PushoverAPITokenEnv  = "MEDTRACK_PUSHOVER_API_TOKEN"
	PushoverUserTokenEnv = "MEDTRACK_PUSHOVER_USER_TOKEN"
	EnvironmentEnv       = "MEDTRACK_ENV"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultListenAddr = ":9464"
	// DefaultPollSpec checks for due doses every five minutes.
	DefaultPollSpec = "*/5 * * * *"
)

// ErrEnvVariableNotSet occurs when a required environment variable is not set.
var ErrEnvVariableNotSet = errors.New("environment variable is not set")

// Env variable Config implementation.
type Env struct{}

// StorageDriver getter; empty when unset so the storage layer applies its
// own default.
func (e *Env) StorageDriver() string { return os.Getenv(StorageDriverEnv) }

// SQLitePath for the embedded database file.
func (e *Env) SQLitePath() string { return os.Getenv(SQLitePathEnv) }

// PostgresDSN getter. Required when the postgres driver is selected.
func (e *Env) PostgresDSN() (string, error) {
	val, ok := os.LookupEnv(PostgresDSNEnv)
	if !ok {
		return "", fmt.Errorf(
			"unable to get postgres DSN from env variable %s: %w",
			PostgresDSNEnv,
			ErrEnvVariableNotSet,
		)
	}
	return val, nil
}

// ListenAddr for the metrics endpoint.
func (e *Env) ListenAddr() string {
	if val := os.Getenv(ListenAddrEnv); val != "" {
		return val
	}
	return DefaultListenAddr
}

// PollSpec is the cron expression driving the due-dose poll.
func (e *Env) PollSpec() string {
	if val := os.Getenv(PollSpecEnv); val != "" {
		return val
	}
	return DefaultPollSpec
}

// ReminderBuffer getter. Zero duration means use the service default.
func (e *Env) ReminderBuffer() (time.Duration, error) {
	val, ok := os.LookupEnv(ReminderBufferEnv)
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in env variable %s: %w", ReminderBufferEnv, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration in env variable %s", ReminderBufferEnv)
	}
	return d, nil
}

// PushoverAPIToken getter.
func (e *Env) PushoverAPIToken() (string, error) {
	val, ok := os.LookupEnv(PushoverAPITokenEnv)
	if !ok {
		return "", fmt.Errorf(
			"unable to get pushover API token from env variable %s: %w",
			PushoverAPITokenEnv,
			ErrEnvVariableNotSet,
		)
	}
	return val, nil
}

// PushoverUserToken getter.
func (e *Env) PushoverUserToken() (string, error) {
	val, ok := os.LookupEnv(PushoverUserTokenEnv)
	if !ok {
		return "", fmt.Errorf(
			"unable to get pushover user token from env variable %s: %w",
			PushoverUserTokenEnv,
			ErrEnvVariableNotSet,
		)
	}
	return val, nil
}

// Environment getter; "production" enables the production logger profile.
func (e *Env) Environment() string { return os.Getenv(EnvironmentEnv) }

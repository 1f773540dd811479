// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	runSweepNow    = pflag.Bool("sweep-tokens", false, "Deletes expired tokens once at startup")
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}
	validDBDrivers = []string{"sqlite", "postgres"}
)

// SweepOnStartup reports whether the --sweep-tokens flag was passed.
func SweepOnStartup() bool {
	return *runSweepNow
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.domain", "host_domain")
	v.BindEnv("host.ssl.enabled", "host_ssl_enabled")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")

	v.BindEnv("redis.addr", "redis_addr")

	v.BindEnv("mail.host", "mail_host")
	v.BindEnv("mail.port", "mail_port")
	v.BindEnv("mail.sender", "mail_sender_address")
	v.BindEnv("mail.password", "mail_password")

	v.BindEnv("session.ttl_minutes", "session_ttl_minutes")
	v.BindEnv("session.remember_ttl_hours", "session_remember_ttl_hours")

	v.BindEnv("security.tfa_max_attempts", "security_tfa_max_attempts")
	v.BindEnv("security.resend_cooldown_minutes", "security_resend_cooldown_minutes")
	v.BindEnv("security.resend_daily_limit", "security_resend_daily_limit")

	v.BindEnv("sweep.schedule", "sweep_schedule")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.domain", "localhost")
	v.SetDefault("host.ssl.enabled", false)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("mail.port", 587)

	v.SetDefault("session.ttl_minutes", 15)
	v.SetDefault("session.remember_ttl_hours", 24*7)

	v.SetDefault("security.tfa_max_attempts", 5)
	v.SetDefault("security.resend_cooldown_minutes", 2)
	v.SetDefault("security.resend_daily_limit", 5)

	v.SetDefault("sweep.schedule", "@every 5m")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); ok {
			return errors.New("config.toml file is missing")
		}

		return fmt.Errorf("failed to read config file, %w", err)
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validDBDrivers, v.GetString("db.driver")) {
		return errors.New("invalid db driver provided")
	}

	if v.GetString("db.dsn") == "" {
		return errors.New("db dsn can't be empty")
	}

	if v.GetString("redis.addr") == "" {
		return errors.New("redis address can't be empty")
	}

	if v.GetString("mail.host") == "" {
		return errors.New("mail host can't be empty")
	}

	if v.GetString("mail.sender") == "" {
		return errors.New("mail sender address can't be empty")
	}

	if v.GetInt("session.ttl_minutes") <= 0 {
		return errors.New("session ttl must be bigger than 0")
	}

	if v.GetInt("security.tfa_max_attempts") <= 0 {
		return errors.New("tfa max attempts must be bigger than 0")
	}

	return nil
}

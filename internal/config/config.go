// Package config loads the auth server's configuration file: one
// "KEY = VALUE;" assignment per line, "#" line comments, as described in
// spec.md §6. This mirrors original_source/src/shared/Config/Config.cpp's
// format exactly, not the YAML format the teacher repo's own config loader
// uses — the wire format here is pinned by the specification.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// raw is the key->string map produced by parsing the config file, mirroring
// NECRO::Config::m_confMap.
type raw map[string]string

func parseFile(path string) (raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	m := make(raw)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Strip whitespace the same way the source does (it removes every
		// space character from the line before splitting on '=').
		line = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, line)
		line = strings.TrimSuffix(line, ";")

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		val := line[idx+1:]
		val = strings.TrimSuffix(val, ";")
		m[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return m, nil
}

func (m raw) getInt(log *slog.Logger, key string, fallback int) int {
	v, ok := m[key]
	if !ok {
		log.Warn("config key not found, using fallback", "key", key, "fallback", fallback)
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("config key not an integer, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return n
}

func (m raw) getBool(log *slog.Logger, key string, fallback bool) bool {
	v, ok := m[key]
	if !ok {
		log.Warn("config key not found, using fallback", "key", key, "fallback", fallback)
		return fallback
	}
	return v != "0"
}

func (m raw) getString(log *slog.Logger, key, fallback string) string {
	v, ok := m[key]
	if !ok {
		log.Warn("config key not found, using fallback", "key", key, "fallback", fallback)
		return fallback
	}
	return v
}

// AuthServerConfig holds every knob spec.md §6 names, plus the connection
// details the distilled spec leaves to an external collaborator.
type AuthServerConfig struct {
	// Logging
	ConsoleLoggingEnabled bool
	FileLoggingEnabled    bool

	// Accepted client version (exact match)
	ClientVersionMajor    int
	ClientVersionMinor    int
	ClientVersionRevision int

	// Network
	BindAddress           string
	ManagerServerPort     int
	NetworkThreadsCount   int // -1 = hardware concurrency
	MaxConnectedPerThread int // -1 = unlimited
	MaxOutboundQueueDepth int

	// Admission control
	EnableSpamPrevention            bool
	MaxConnectionAttemptsPerMinute  int
	ConnectionAttemptCleanupIntMin  int

	// Timeouts (ms)
	HandshakeAndIdleTimeoutMS int
	ConnectedIdleTimeoutMS    int

	// Timers (ms)
	DBAliveIntervalMS       int
	IPCleanupIntervalMS     int
	DBCallbackCheckIntervalMS int

	// TLS materials
	TLSCertFile string
	TLSKeyFile  string

	Database DatabaseConfig
}

// DatabaseConfig holds PostgreSQL connection parameters, used in place of
// the source's MySQL X Protocol endpoint (see DESIGN.md and SPEC_FULL.md
// §6.1 for why).
type DatabaseConfig struct {
	Host    string
	Port    int
	User    string
	Password string
	DBName  string
	SSLMode string
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns the config with the fallbacks used throughout
// original_source/src/NECROAuth/Server/NECROServer.cpp's ApplySettings.
func Default() AuthServerConfig {
	return AuthServerConfig{
		ConsoleLoggingEnabled: true,
		FileLoggingEnabled:    true,

		ClientVersionMajor:    1,
		ClientVersionMinor:    0,
		ClientVersionRevision: 0,

		BindAddress:           "0.0.0.0",
		ManagerServerPort:     61531,
		NetworkThreadsCount:   -1,
		MaxConnectedPerThread: -1,
		MaxOutboundQueueDepth: 16,

		EnableSpamPrevention:           true,
		MaxConnectionAttemptsPerMinute: 10,
		ConnectionAttemptCleanupIntMin: 1,

		HandshakeAndIdleTimeoutMS: 10000,
		ConnectedIdleTimeoutMS:    10000,

		DBAliveIntervalMS:         60000,
		IPCleanupIntervalMS:       60000,
		DBCallbackCheckIntervalMS: 1000,

		TLSCertFile: "server.pem",
		TLSKeyFile:  "pkey.pem",

		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "necroauth",
			Password: "necroauth",
			DBName:  "necroauth",
			SSLMode: "disable",
		},
	}
}

// Load reads the config file at path, falling back to defaults for any
// missing or malformed key (and logging a warning for each, matching
// Config::GetInt/GetBool/GetString's behavior in the source). If the file
// itself cannot be opened, defaults are returned as-is.
func Load(path string, log *slog.Logger) AuthServerConfig {
	cfg := Default()

	m, err := parseFile(path)
	if err != nil {
		log.Warn("could not load config file, using defaults", "path", path, "err", err)
		return cfg
	}

	cfg.ConsoleLoggingEnabled = m.getBool(log, "ConsoleLoggingEnabled", cfg.ConsoleLoggingEnabled)
	cfg.FileLoggingEnabled = m.getBool(log, "FileLoggingEnabled", cfg.FileLoggingEnabled)

	cfg.ClientVersionMajor = m.getInt(log, "CLIENT_VERSION_MAJOR", cfg.ClientVersionMajor)
	cfg.ClientVersionMinor = m.getInt(log, "CLIENT_VERSION_MINOR", cfg.ClientVersionMinor)
	cfg.ClientVersionRevision = m.getInt(log, "CLIENT_VERSION_REVISION", cfg.ClientVersionRevision)

	cfg.BindAddress = m.getString(log, "BIND_ADDRESS", cfg.BindAddress)
	cfg.ManagerServerPort = m.getInt(log, "MANAGER_SERVER_PORT", cfg.ManagerServerPort)
	cfg.NetworkThreadsCount = m.getInt(log, "NETWORK_THREADS_COUNT", cfg.NetworkThreadsCount)
	cfg.MaxConnectedPerThread = m.getInt(log, "MAX_CONNECTED_CLIENTS_PER_THREAD", cfg.MaxConnectedPerThread)
	cfg.MaxOutboundQueueDepth = m.getInt(log, "MAX_OUTBOUND_QUEUE", cfg.MaxOutboundQueueDepth)

	cfg.EnableSpamPrevention = m.getBool(log, "ENABLE_SPAM_PREVENTION", cfg.EnableSpamPrevention)
	cfg.MaxConnectionAttemptsPerMinute = m.getInt(log, "MAX_CONNECTION_ATTEMPTS_PER_MINUTE", cfg.MaxConnectionAttemptsPerMinute)
	cfg.ConnectionAttemptCleanupIntMin = m.getInt(log, "CONNECTION_ATTEMPT_CLEANUP_INTERVAL_MIN", cfg.ConnectionAttemptCleanupIntMin)

	cfg.HandshakeAndIdleTimeoutMS = m.getInt(log, "HANDSHAKING_AND_IDLE_TIMEOUT_MS", cfg.HandshakeAndIdleTimeoutMS)
	cfg.ConnectedIdleTimeoutMS = m.getInt(log, "CONNECTED_AND_IDLE_TIMEOUT_MS", cfg.ConnectedIdleTimeoutMS)

	cfg.DBAliveIntervalMS = m.getInt(log, "DATABASE_ALIVE_HANDLER_UPDATE_INTERVAL_MS", cfg.DBAliveIntervalMS)
	cfg.IPCleanupIntervalMS = m.getInt(log, "IP_BASED_REQUEST_CLEANUP_INTERVAL_MS", cfg.IPCleanupIntervalMS)
	cfg.DBCallbackCheckIntervalMS = m.getInt(log, "DATABASE_CALLBACK_CHECK_INTERVAL_MS", cfg.DBCallbackCheckIntervalMS)

	cfg.TLSCertFile = m.getString(log, "TLS_CERT_FILE", cfg.TLSCertFile)
	cfg.TLSKeyFile = m.getString(log, "TLS_KEY_FILE", cfg.TLSKeyFile)

	cfg.Database.Host = m.getString(log, "DB_HOST", cfg.Database.Host)
	cfg.Database.Port = m.getInt(log, "DB_PORT", cfg.Database.Port)
	cfg.Database.User = m.getString(log, "DB_USER", cfg.Database.User)
	cfg.Database.Password = m.getString(log, "DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = m.getString(log, "DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = m.getString(log, "DB_SSLMODE", cfg.Database.SSLMode)

	return cfg
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"thread-archiver/internal/backupfs"
)

const DefaultConfigPath = "config/archiver.json"

const (
	DefaultOutputRoot   = "archive"
	DefaultWorkers      = 4
	DefaultFetchDelayMS = 1000
	DefaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

// Settings are the persisted defaults; per-command flags override them for a
// single invocation.
type Settings struct {
	OutputRoot   string `json:"output_root,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	FetchDelayMS int    `json:"fetch_delay_ms,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	Proxy        string `json:"proxy,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type UpdateOptions struct {
	ConfigPath string
	Settings   Settings
}

type UpdateResult struct {
	ConfigPath string   `json:"config_path"`
	Settings   Settings `json:"settings"`
}

func defaultSettings() Settings {
	return Settings{
		OutputRoot:   DefaultOutputRoot,
		Workers:      DefaultWorkers,
		FetchDelayMS: DefaultFetchDelayMS,
		UserAgent:    DefaultUserAgent,
	}
}

func normalizeSettings(raw Settings) Settings {
	norm := raw
	norm.OutputRoot = strings.TrimSpace(norm.OutputRoot)
	if norm.OutputRoot == "" {
		norm.OutputRoot = DefaultOutputRoot
	}
	if norm.Workers <= 0 {
		norm.Workers = DefaultWorkers
	}
	if norm.FetchDelayMS < 0 {
		norm.FetchDelayMS = DefaultFetchDelayMS
	}
	norm.UserAgent = strings.TrimSpace(norm.UserAgent)
	if norm.UserAgent == "" {
		norm.UserAgent = DefaultUserAgent
	}
	norm.Proxy = strings.TrimSpace(norm.Proxy)
	return norm
}

func NormalizePath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return DefaultConfigPath
	}
	return p
}

// Read loads the settings file; a missing file yields the defaults.
func Read(configPath string) (Settings, error) {
	path := NormalizePath(configPath)
	var s Settings
	err := backupfs.ReadJSON(path, &s)
	if err == nil {
		return normalizeSettings(s), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return defaultSettings(), nil
	}
	return Settings{}, err
}

// Ensure creates the settings file with defaults when absent.
func Ensure(configPath string) (Settings, bool, error) {
	path := NormalizePath(configPath)
	if _, err := os.Stat(path); err == nil {
		s, readErr := Read(path)
		return s, false, readErr
	}
	s := defaultSettings()
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := backupfs.WriteJSON(path, s); err != nil {
		return Settings{}, false, err
	}
	return s, true, nil
}

func Update(opts UpdateOptions) (UpdateResult, error) {
	path := NormalizePath(opts.ConfigPath)
	s := normalizeSettings(opts.Settings)
	if s.Workers > 64 {
		return UpdateResult{}, fmt.Errorf("workers must be between 1 and 64, got %d", s.Workers)
	}
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := backupfs.WriteJSON(path, s); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{ConfigPath: path, Settings: s}, nil
}

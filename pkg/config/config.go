package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vatesfr/xobackup/internal/common/core"
)

type Config struct {
	HypervisorURL      string
	Username           string
	Password           string
	Token              string
	MergeWorkerURL     string
	InsecureSkipVerify bool
	// Mostly used for log level.
	Development     bool
	RetryMode       core.RetryMode
	RetryMaxTime    time.Duration
	MaxParallelVMs  int
	VMTimeout       time.Duration
}

var retryModeMap = map[string]core.RetryMode{
	"none":    core.None,
	"backoff": core.Backoff,
}

func ToRetryMode(mode string) core.RetryMode {
	retry, ok := retryModeMap[mode]
	if !ok {
		return core.None
	}
	return retry
}

const (
	// #nosec G101 -- Not actual credentials, just environment variable names
	errMissingAuthInfo = `authentication information not provided. Please set XOBACKUP_HYPERVISOR_TOKEN or both XOBACKUP_HYPERVISOR_USER and XOBACKUP_HYPERVISOR_PASSWORD`
	errMissingUrl      = `XOBACKUP_HYPERVISOR_URL is not set, please set it`
)

// New returns a new Config with sensible defaults.
//
// The following environment variables are honored:
//
// - XOBACKUP_HYPERVISOR_URL: the base URL of the hypervisor JSON-RPC endpoint.
// - XOBACKUP_HYPERVISOR_USER / XOBACKUP_HYPERVISOR_PASSWORD: credential pair.
// - XOBACKUP_HYPERVISOR_TOKEN: the authentication token, used instead of the credential pair.
// - XOBACKUP_MERGE_WORKER_URL: the merge-worker process's JSON-RPC endpoint.
// - XOBACKUP_INSECURE: whether to skip verifying the server's TLS certificate.
// - XOBACKUP_DEVELOPMENT: whether to enable development mode.
// - XOBACKUP_RETRY_MODE: the retry mode to use. Defaults to "none". Valid values are "none", "backoff".
// - XOBACKUP_RETRY_MAX_TIME: the maximum total time spent retrying one call. Defaults to 5 minutes.
// - XOBACKUP_MAX_PARALLEL_VMS: default bound on concurrent VM workers per job. Defaults to 0 (unbounded).
// - XOBACKUP_VM_TIMEOUT: fallback vmTimeout applied when a job's settings leave it unset. Defaults to 0 (disabled).
func New() (*Config, error) {
	url := os.Getenv("XOBACKUP_HYPERVISOR_URL")
	token := os.Getenv("XOBACKUP_HYPERVISOR_TOKEN")
	username := os.Getenv("XOBACKUP_HYPERVISOR_USER")
	password := os.Getenv("XOBACKUP_HYPERVISOR_PASSWORD")
	if url == "" {
		return nil, errors.New(errMissingUrl)
	}
	if token == "" && (username == "" || password == "") {
		return nil, errors.New(errMissingAuthInfo)
	}

	retryMode := core.None
	retryMaxTime := 5 * time.Minute

	if v := os.Getenv("XOBACKUP_RETRY_MODE"); v != "" {
		retry, ok := retryModeMap[v]
		if !ok {
			fmt.Println("[ERROR] failed to set retry mode, disabling retries")
		} else {
			retryMode = retry
		}
	}

	if v := os.Getenv("XOBACKUP_RETRY_MAX_TIME"); v != "" {
		duration, err := time.ParseDuration(v)
		if err == nil {
			retryMaxTime = duration
		} else {
			fmt.Println("[ERROR] failed to parse retry max time, using default")
		}
	}

	insecure := false
	if v := os.Getenv("XOBACKUP_INSECURE"); v != "" {
		insecure, _ = strconv.ParseBool(v)
	}

	development := false
	if v := os.Getenv("XOBACKUP_DEVELOPMENT"); v != "" {
		development, _ = strconv.ParseBool(v)
	}

	maxParallelVMs := 0
	if v := os.Getenv("XOBACKUP_MAX_PARALLEL_VMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxParallelVMs = n
		}
	}

	var vmTimeout time.Duration
	if v := os.Getenv("XOBACKUP_VM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			vmTimeout = d
		}
	}

	return &Config{
		HypervisorURL:      url,
		Username:           username,
		Password:           password,
		Token:              token,
		MergeWorkerURL:     os.Getenv("XOBACKUP_MERGE_WORKER_URL"),
		InsecureSkipVerify: insecure,
		Development:        development,
		RetryMode:          retryMode,
		RetryMaxTime:       retryMaxTime,
		MaxParallelVMs:     maxParallelVMs,
		VMTimeout:          vmTimeout,
	}, nil
}

// NewWithValues returns a new Config with the values provided, bypassing
// environment variables entirely (e.g. when the engine is embedded in a
// host process that already has its own configuration layer).
func NewWithValues(config *Config) (*Config, error) {
	if config.HypervisorURL == "" {
		return nil, errors.New(errMissingUrl)
	}

	if config.Token == "" && (config.Username == "" || config.Password == "") {
		return nil, errors.New(errMissingAuthInfo)
	}

	return &Config{
		HypervisorURL:      config.HypervisorURL,
		Username:           config.Username,
		Password:           config.Password,
		Token:              config.Token,
		MergeWorkerURL:     config.MergeWorkerURL,
		InsecureSkipVerify: config.InsecureSkipVerify,
		RetryMode:          config.RetryMode,
		RetryMaxTime:       config.RetryMaxTime,
		Development:        config.Development,
		MaxParallelVMs:     config.MaxParallelVMs,
		VMTimeout:          config.VMTimeout,
	}, nil
}

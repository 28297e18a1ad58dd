package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	_ "embed"

	"github.com/goccy/go-yaml"
)

const (
	DefaultShell          = "/bin/bash"
	DefaultSettleDelay    = 100 * time.Millisecond
	DefaultMaxOutputBytes = 16 << 20
	DefaultCancelGrace    = time.Second
	DefaultMaxQueryFails  = 5
	// JobIDPlaceholder is replaced by the cluster job id in status and cancel commands.
	JobIDPlaceholder = "{jobid}"
	// ResultFilePlaceholder is the scheduler-side job id pattern in the result file template.
	ResultFilePlaceholder = "%J"
)

// Config mirrors the YAML configuration shape.
type Config struct {
	// backend used when a submission names none
	DefaultBackend string `yaml:"default_backend,omitempty" json:"default_backend,omitempty"`
	// interpreter written into the shebang line and used by the local backend
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`
	// pause between escalation ladder steps, e.g. "100ms"
	SettleDelay string `yaml:"settle_delay,omitempty" json:"settle_delay,omitempty"`
	// upper bound for each captured stream, older bytes are dropped first
	MaxOutputBytes int            `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty"`
	Logging        *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	// extra arguments appended to every submission, keyed by backend name
	DefaultArgs map[string][]string `yaml:"default_args,omitempty" json:"default_args,omitempty"`
	Remote      Remote              `yaml:"remote,omitempty" json:"remote,omitempty"`
	Cluster     Cluster             `yaml:"cluster,omitempty" json:"cluster,omitempty"`
	Hosts       map[string]Host     `yaml:"hosts,omitempty" json:"hosts,omitempty"`
}

// LoggingConfig holds the logging configuration. If no path is provided, logs are written to stderr.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=quiet"`
	Path  string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Remote configures the ssh transport used when a host is not a configured alias.
type Remote struct {
	Command     []string `yaml:"command,omitempty" json:"command,omitempty"`
	DefaultHost string   `yaml:"default_host,omitempty" json:"default_host,omitempty"`
}

// Cluster describes the batch scheduler. The defaults target Slurm.
type Cluster struct {
	Name           string   `yaml:"name,omitempty" json:"name,omitempty"`
	Submit         []string `yaml:"submit,omitempty" json:"submit,omitempty"`
	AckPattern     string   `yaml:"ack_pattern,omitempty" json:"ack_pattern,omitempty"`
	Status         []string `yaml:"status,omitempty" json:"status,omitempty"`
	FallbackStatus []string `yaml:"fallback_status,omitempty" json:"fallback_status,omitempty"`
	Cancel         []string `yaml:"cancel,omitempty" json:"cancel,omitempty"`
	// ResultFiles is the output/error file prefix; %J is replaced by the job id.
	ResultFiles    string   `yaml:"result_files,omitempty" json:"result_files,omitempty"`
	WaitStates     []string `yaml:"wait_states,omitempty" json:"wait_states,omitempty"`
	RunStates      []string `yaml:"run_states,omitempty" json:"run_states,omitempty"`
	EndStates      []string `yaml:"end_states,omitempty" json:"end_states,omitempty"`
	CompletedState string   `yaml:"completed_state,omitempty" json:"completed_state,omitempty"`
	CancelGrace    string   `yaml:"cancel_grace,omitempty" json:"cancel_grace,omitempty"`
	// consecutive failed status queries tolerated before the job is marked failed
	MaxQueryFailures int `yaml:"max_query_failures,omitempty" json:"max_query_failures,omitempty"`
	// LoginHost names a host alias; scheduler commands then run over ssh.
	LoginHost string `yaml:"login_host,omitempty" json:"login_host,omitempty"`
}

// Host is a remote host reachable with key authentication.
type Host struct {
	IP          string `yaml:"ip" json:"ip"`
	Port        int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username    string `yaml:"username" json:"username"`
	KeyFile     string `yaml:"key_file" json:"key_file"`
	KeyPassword string `yaml:"key_password,omitempty" json:"key_password,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Shell:          DefaultShell,
		SettleDelay:    DefaultSettleDelay.String(),
		MaxOutputBytes: DefaultMaxOutputBytes,
		Remote: Remote{
			Command:     []string{"ssh", "-n"},
			DefaultHost: "localhost",
		},
		Cluster: Cluster{
			Name:           "Slurm",
			Submit:         []string{"sbatch", "-n", "1"},
			AckPattern:     `^Submitted batch job (\d+)`,
			Status:         []string{"sacct", "-j" + JobIDPlaceholder, "--format=State", "-n", "-X"},
			FallbackStatus: []string{"squeue", "-j" + JobIDPlaceholder, "-h", "-o", "%T"},
			Cancel:         []string{"scancel", JobIDPlaceholder},
			ResultFiles:    "$HOME/jobctl-slurm." + ResultFilePlaceholder,
			WaitStates:     []string{"CONFIGURING", "PENDING"},
			RunStates:      []string{"COMPLETING", "RUNNING", "SUSPENDED"},
			EndStates: []string{"CANCELLED", "COMPLETED", "FAILED",
				"NODE_FAIL", "PREEMPTED", "TIMEOUT"},
			CompletedState:   "COMPLETED",
			CancelGrace:      DefaultCancelGrace.String(),
			MaxQueryFailures: DefaultMaxQueryFails,
		},
	}
}

// ParseYAML loads and validates configuration using strict decoding.
// Fields absent from data keep their built-in defaults.
func ParseYAML(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandTilde(path))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseYAML(data)
}

// Settle returns the parsed settle delay.
func (c *Config) Settle() time.Duration {
	return parseDurationOr(c.SettleDelay, DefaultSettleDelay)
}

// ArgsFor returns the configured default extra arguments for a backend.
func (c *Config) ArgsFor(backend string) []string {
	if c.DefaultArgs == nil {
		return nil
	}
	return append([]string(nil), c.DefaultArgs[backend]...)
}

// Grace returns the parsed cancel grace period.
func (c Cluster) Grace() time.Duration {
	return parseDurationOr(c.CancelGrace, DefaultCancelGrace)
}

// ResultPrefix returns the result file prefix with ~ and env vars expanded.
func (c Cluster) ResultPrefix() string {
	return ExpandTilde(c.ResultFiles)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ExpandTilde expands a leading ~ to $HOME and then any environment variables.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = "$HOME" + path[1:]
	}
	return os.ExpandEnv(path)
}

func validateConfig(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Shell) == "" {
		errs = append(errs, "shell must be set")
	}
	if strings.TrimSpace(cfg.SettleDelay) != "" {
		d, err := time.ParseDuration(cfg.SettleDelay)
		if err != nil || d < 0 {
			errs = append(errs, "settle_delay must be a non-negative duration")
		}
	}
	if cfg.MaxOutputBytes < 0 {
		errs = append(errs, "max_output_bytes must be >= 0")
	}
	if cfg.Logging != nil {
		switch strings.ToLower(cfg.Logging.Level) {
		case "", "debug", "info", "quiet":
			// ok
		default:
			errs = append(errs, "logging.level must be one of [debug, info, quiet]")
		}
	}

	if len(cfg.Remote.Command) == 0 {
		errs = append(errs, "remote.command must be set")
	}

	cl := &cfg.Cluster
	if len(cl.Submit) == 0 {
		errs = append(errs, "cluster.submit must be set")
	}
	if len(cl.Status) == 0 {
		errs = append(errs, "cluster.status must be set")
	}
	if len(cl.Cancel) == 0 {
		errs = append(errs, "cluster.cancel must be set")
	}
	if strings.TrimSpace(cl.AckPattern) == "" {
		errs = append(errs, "cluster.ack_pattern must be set")
	} else if re, err := regexp.Compile(cl.AckPattern); err != nil {
		errs = append(errs, fmt.Sprintf("cluster.ack_pattern is not a valid regexp: %v", err))
	} else if re.NumSubexp() < 1 {
		errs = append(errs, "cluster.ack_pattern must capture the job id in a group")
	}
	if !strings.Contains(cl.ResultFiles, ResultFilePlaceholder) {
		errs = append(errs, "cluster.result_files must contain "+ResultFilePlaceholder)
	}
	if len(cl.EndStates) == 0 {
		errs = append(errs, "cluster.end_states must be non-empty")
	}
	if strings.TrimSpace(cl.CancelGrace) != "" {
		d, err := time.ParseDuration(cl.CancelGrace)
		if err != nil || d < 0 {
			errs = append(errs, "cluster.cancel_grace must be a non-negative duration")
		}
	}
	if cl.MaxQueryFailures < 0 {
		errs = append(errs, "cluster.max_query_failures must be >= 0")
	}
	if cl.LoginHost != "" {
		if _, ok := cfg.Hosts[cl.LoginHost]; !ok {
			errs = append(errs, fmt.Sprintf("cluster.login_host references unknown host '%s'", cl.LoginHost))
		}
	}

	for alias, host := range cfg.Hosts {
		if strings.TrimSpace(host.IP) == "" {
			errs = append(errs, fmt.Sprintf("hosts.%s.ip must be set", alias))
		}
		if strings.TrimSpace(host.Username) == "" {
			errs = append(errs, fmt.Sprintf("hosts.%s.username must be set", alias))
		}
		if strings.TrimSpace(host.KeyFile) == "" {
			errs = append(errs, fmt.Sprintf("hosts.%s.key_file must be set", alias))
		}
		if host.Port < 0 || host.Port > 65535 {
			errs = append(errs, fmt.Sprintf("hosts.%s.port must be in [0, 65535]", alias))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func GetDefaultConfigFile() string {
	return string(defaultConfigFile)
}

//go:embed files/default_jobctl.yaml
var defaultConfigFile []byte

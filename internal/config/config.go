package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".loadcore/config.yaml"

type MiddlewareConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port" default:"443"`
	Protocol           string        `yaml:"protocol" default:"https"`
	AuthToken          string        `yaml:"auth_token"`
	LicenseServer      string        `yaml:"license_server"`
	HTTP2              bool          `yaml:"http2"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" default:"true"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// BaseURL returns {protocol}://{host}:{port}.
func (m MiddlewareConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", m.Protocol, m.Host, m.Port)
}

type PollingConfig struct {
	OperationInterval time.Duration `yaml:"operation_interval" default:"2s"`
	OperationAttempts int           `yaml:"operation_attempts" default:"40"`
	SessionInterval   time.Duration `yaml:"session_interval" default:"5s"`
	ArtifactInterval  time.Duration `yaml:"artifact_interval" default:"5s"`
	ArtifactAttempts  int           `yaml:"artifact_attempts" default:"40"`
	// fail, retry or acknowledge
	TransientErrors string `yaml:"transient_errors" default:"fail"`
}

type CaptureConfig struct {
	Agent     string `yaml:"agent"`
	Interface string `yaml:"interface" default:"ens160"`
}

type StatViewConfig struct {
	Name string `yaml:"name" json:"name"`
	// max or avg_non_zero
	Summary string `yaml:"summary" json:"summary"`
}

type RunConfig struct {
	ConfigPath         string            `yaml:"config_path"`
	ConfigID           string            `yaml:"config_id"`
	ReportName         string            `yaml:"report_name"`
	SessionType        string            `yaml:"session_type" default:"fullCore"`
	SustainTime        int               `yaml:"sustain_time"`
	DeleteSession      bool              `yaml:"delete_session" default:"true"`
	Remap              bool              `yaml:"remap"`
	SBATopology        bool              `yaml:"sba_topology"`
	Nodes              map[string]string `yaml:"nodes"`
	Capture            CaptureConfig     `yaml:"capture"`
	Stats              []StatViewConfig  `yaml:"stats" default:"[{\"name\":\"RegisteredUEs\",\"summary\":\"max\"},{\"name\":\"NGRANRegistrationprocedure\",\"summary\":\"avg_non_zero\"},{\"name\":\"PDUSessionEstablishment\",\"summary\":\"max\"},{\"name\":\"NGRANRegistration\",\"summary\":\"max\"}]"`
	StartTimeout       time.Duration     `yaml:"start_timeout" default:"300s"`
	DurationMultiplier float64           `yaml:"duration_multiplier" default:"2"`
}

var nameSeparators = strings.NewReplacer("/", "_", "\\", "_")

// Name returns the report name, falling back to the config file name or ID.
// Path separators are replaced so the name stays one folder level.
func (r RunConfig) Name() string {
	name := "default"
	switch {
	case strings.TrimSpace(r.ReportName) != "":
		name = r.ReportName
	case r.ConfigPath != "":
		name = strings.TrimSuffix(filepath.Base(r.ConfigPath), ".json")
	case r.ConfigID != "":
		name = r.ConfigID
	}
	return nameSeparators.Replace(name)
}

type OutputConfig struct {
	ResultsDir  string   `yaml:"results_dir" default:"./results"`
	LogoDir     string   `yaml:"logo_dir"`
	Formats     []string `yaml:"formats" default:"[\"html\",\"xlsx\",\"md\",\"pdf\",\"csv\",\"captures\"]"`
	Ledger      string   `yaml:"ledger" default:"./results/loadcore.db"`
	MetricsFile string   `yaml:"metrics_file"`
}

// Wants reports whether format is enabled.
func (o OutputConfig) Wants(format string) bool {
	for _, f := range o.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket" default:"loadcore-results"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl" default:"true"`
}

type ArtifactsConfig struct {
	S3 S3Config `yaml:"s3"`
}

type SanitizeConfig struct {
	Headers     []string `yaml:"headers" default:"[\"Authorization\",\"Cookie\",\"Set-Cookie\",\"X-Api-Key\",\"X-Auth-Token\"]"`
	BodyFields  []string `yaml:"body_fields" default:"[\"password\",\"secret\",\"token\",\"authToken\",\"api_key\",\"access_token\",\"refresh_token\"]"`
	Replacement string   `yaml:"replacement" default:"***REDACTED***"`
}

type ServerConfig struct {
	Host string `yaml:"host" default:"127.0.0.1"`
	Port int    `yaml:"port" default:"3000"`
}

type LogConfig struct {
	Level string `yaml:"level" default:"info"`
	File  string `yaml:"file" default:"loadcore-debug.log"`
}

type Config struct {
	Middleware MiddlewareConfig `yaml:"middleware"`
	Polling    PollingConfig    `yaml:"polling"`
	Run        RunConfig        `yaml:"run"`
	Output     OutputConfig     `yaml:"output"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Sanitize   SanitizeConfig   `yaml:"sanitize"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// Load applies struct defaults, .env, the YAML file, then env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Middleware.Host) == "" {
		return errors.New("middleware.host cannot be empty")
	}
	if c.Middleware.Protocol != "http" && c.Middleware.Protocol != "https" {
		return fmt.Errorf("middleware.protocol must be http or https, got %q", c.Middleware.Protocol)
	}
	if strings.TrimSpace(c.Middleware.AuthToken) == "" {
		return errors.New("middleware.auth_token cannot be empty")
	}
	switch c.Polling.TransientErrors {
	case "fail", "retry", "acknowledge":
	default:
		return fmt.Errorf("polling.transient_errors must be fail, retry or acknowledge, got %q", c.Polling.TransientErrors)
	}
	if strings.TrimSpace(c.Output.ResultsDir) == "" {
		return errors.New("output.results_dir cannot be empty")
	}
	if err := ensureWritableDir(c.Output.ResultsDir); err != nil {
		return fmt.Errorf("output.results_dir not writable: %w", err)
	}
	return nil
}

// ValidateRun enforces run-specific requirements.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Run.ConfigPath != "" && c.Run.ConfigID != "" {
		return errors.New("run.config_path and run.config_id are mutually exclusive")
	}
	if c.Run.Remap {
		if c.Run.ConfigPath == "" {
			return errors.New("run.remap requires run.config_path")
		}
		if len(c.Run.Nodes) == 0 {
			return errors.New("run.remap requires run.nodes")
		}
	}
	for _, v := range c.Run.Stats {
		switch v.Summary {
		case "", "max", "avg_non_zero":
		default:
			return fmt.Errorf("run.stats %s: unknown summary %q", v.Name, v.Summary)
		}
	}
	if c.Artifacts.S3.Enabled && (c.Artifacts.S3.Endpoint == "" || c.Artifacts.S3.Bucket == "") {
		return errors.New("artifacts.s3 requires endpoint and bucket")
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func applyEnvOverrides(c *Config) {
	setString(&c.Middleware.Host, "LOADCORE_HOST")
	setInt(&c.Middleware.Port, "LOADCORE_PORT")
	setString(&c.Middleware.Protocol, "LOADCORE_PROTOCOL")
	setString(&c.Middleware.AuthToken, "LOADCORE_AUTH_TOKEN")
	setString(&c.Middleware.LicenseServer, "LOADCORE_LICENSE_SERVER")
	setBool(&c.Middleware.HTTP2, "LOADCORE_HTTP2")
	setString(&c.Run.ConfigPath, "LOADCORE_CONFIG_PATH")
	setString(&c.Run.Capture.Agent, "LOADCORE_CAPTURE_AGENT")
	setString(&c.Output.ResultsDir, "LOADCORE_RESULTS_DIR")
	setString(&c.Output.LogoDir, "LOADCORE_LOGO_DIR")
	setString(&c.Output.Ledger, "LOADCORE_LEDGER")
	setString(&c.Artifacts.S3.AccessKey, "LOADCORE_S3_ACCESS_KEY")
	setString(&c.Artifacts.S3.SecretKey, "LOADCORE_S3_SECRET_KEY")
	setString(&c.Server.Host, "LOADCORE_SERVER_HOST")
	setInt(&c.Server.Port, "LOADCORE_SERVER_PORT")
	setString(&c.Log.Level, "LOADCORE_LOG_LEVEL")
	setString(&c.Log.File, "LOADCORE_LOG_FILE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

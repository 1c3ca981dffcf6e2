package config

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	v = viper.GetViper()
)

func init() {
	v.SetConfigName("policyd")
	v.AddConfigPath("/etc/policyd/")
	v.AddConfigPath("$HOME/.policyd/")
	v.AddConfigPath(".")
}

var (
	global    = &Config{}
	globalMux sync.RWMutex
)

func Global() *Config {
	globalMux.RLock()
	defer globalMux.RUnlock()

	cfg := &Config{}
	*cfg = *global
	return cfg
}

func Set(c *Config) {
	globalMux.Lock()
	defer globalMux.Unlock()

	global = c
}

func OnUpdate(f func(c *Config) error) error {
	globalMux.Lock()
	defer globalMux.Unlock()

	return f(global)
}

type LogConfig struct {
	Output   string             `yaml:",omitempty" json:"output,omitempty"`
	Level    string             `yaml:",omitempty" json:"level,omitempty"`
	Format   string             `yaml:",omitempty" json:"format,omitempty"`
	Rotation *LogRotationConfig `yaml:",omitempty" json:"rotation,omitempty"`
}

type LogRotationConfig struct {
	// MaxSize is the maximum size in megabytes of the log file before it gets
	// rotated. It defaults to 100 megabytes.
	MaxSize int `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
	// MaxAge is the maximum number of days to retain old log files based on
	// the timestamp encoded in their filename.
	MaxAge int `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `yaml:"maxBackups,omitempty" json:"maxBackups,omitempty"`
	// LocalTime determines if the time used for formatting the timestamps in
	// backup files is the computer's local time.
	LocalTime bool `yaml:"localTime,omitempty" json:"localTime,omitempty"`
	// Compress determines if the rotated log files should be compressed
	// using gzip.
	Compress bool `yaml:"compress,omitempty" json:"compress,omitempty"`
}

type AuthConfig struct {
	Username string `json:"username"`
	Password string `yaml:",omitempty" json:"password,omitempty"`
}

type APIConfig struct {
	Addr       string      `json:"addr"`
	PathPrefix string      `yaml:"pathPrefix,omitempty" json:"pathPrefix,omitempty"`
	AccessLog  bool        `yaml:"accesslog,omitempty" json:"accesslog,omitempty"`
	Auth       *AuthConfig `yaml:",omitempty" json:"auth,omitempty"`
}

type MetricsConfig struct {
	Addr string      `json:"addr"`
	Path string      `yaml:",omitempty" json:"path,omitempty"`
	Auth *AuthConfig `yaml:",omitempty" json:"auth,omitempty"`
}

type ClientGroupConfig struct {
	ID      string   `json:"id"`
	Name    string   `yaml:",omitempty" json:"name,omitempty"`
	Kind    string   `json:"kind"`
	Ref     string   `yaml:",omitempty" json:"ref,omitempty"`
	Subnets []string `yaml:",omitempty" json:"subnets,omitempty"`
	Members int      `yaml:",omitempty" json:"members,omitempty"`
}

type EgressConfig struct {
	ID      string `json:"id"`
	Name    string `yaml:",omitempty" json:"name,omitempty"`
	Kind    string `json:"kind"`
	Addr    string `yaml:",omitempty" json:"addr,omitempty"`
	Default bool   `yaml:",omitempty" json:"default,omitempty"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// Probe selects the health probe type (tcp/dns); empty inherits the
	// tracker default.
	Probe string `yaml:",omitempty" json:"probe,omitempty"`
}

type DNSPolicyConfig struct {
	ID           string   `json:"id"`
	Name         string   `yaml:",omitempty" json:"name,omitempty"`
	Kind         string   `json:"kind"`
	Resolvers    []string `yaml:",omitempty" json:"resolvers,omitempty"`
	UseEgressDNS bool     `yaml:"useEgressDNS,omitempty" json:"useEgressDNS,omitempty"`
}

type PortRangeConfig struct {
	Min uint16 `yaml:"min" json:"min"`
	Max uint16 `yaml:"max" json:"max"`
}

type MatcherConfig struct {
	ID        string             `json:"id"`
	Name      string             `yaml:",omitempty" json:"name,omitempty"`
	Protocols []string           `yaml:",omitempty" json:"protocols,omitempty"`
	Ports     []*PortRangeConfig `yaml:",omitempty" json:"ports,omitempty"`
	Domains   []string           `yaml:",omitempty" json:"domains,omitempty"`
	Apps      []string           `yaml:",omitempty" json:"apps,omitempty"`
}

type QoSConfig struct {
	Enabled      bool   `yaml:",omitempty" json:"enabled,omitempty"`
	Class        string `yaml:",omitempty" json:"class,omitempty"`
	MaxBandwidth int64  `yaml:"maxBandwidth,omitempty" json:"maxBandwidth,omitempty"`
}

type RuleConfig struct {
	ID           string     `json:"id"`
	Name         string     `yaml:",omitempty" json:"name,omitempty"`
	Priority     int        `yaml:"priority" json:"priority"`
	Enabled      bool       `yaml:"enabled" json:"enabled"`
	Default      bool       `yaml:",omitempty" json:"default,omitempty"`
	ClientGroups []string   `yaml:"clientGroups" json:"clientGroups"`
	Matchers     []string   `yaml:",omitempty" json:"matchers,omitempty"`
	Egress       string     `yaml:"egress" json:"egress"`
	DNSPolicy    string     `yaml:"dnsPolicy" json:"dnsPolicy"`
	QoS          *QoSConfig `yaml:",omitempty" json:"qos,omitempty"`
	Failover     bool       `yaml:",omitempty" json:"failover,omitempty"`
	CreatedAt    time.Time  `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
}

type FileLoader struct {
	Path string `json:"path"`
}

type RedisLoader struct {
	Addr     string `json:"addr"`
	DB       int    `yaml:",omitempty" json:"db,omitempty"`
	Username string `yaml:",omitempty" json:"username,omitempty"`
	Password string `yaml:",omitempty" json:"password,omitempty"`
	Key      string `yaml:",omitempty" json:"key,omitempty"`
}

type HTTPLoader struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:",omitempty" json:"timeout,omitempty"`
}

// RuleSetConfig points at an external rule-set document (the format Export
// emits) to load instead of, or in addition to, the inline Rules list.
type RuleSetConfig struct {
	Reload time.Duration `yaml:",omitempty" json:"reload,omitempty"`
	File   *FileLoader   `yaml:",omitempty" json:"file,omitempty"`
	Redis  *RedisLoader  `yaml:",omitempty" json:"redis,omitempty"`
	HTTP   *HTTPLoader   `yaml:"http,omitempty" json:"http,omitempty"`
}

type HealthConfig struct {
	Interval  time.Duration `yaml:",omitempty" json:"interval,omitempty"`
	Timeout   time.Duration `yaml:",omitempty" json:"timeout,omitempty"`
	DownAfter int           `yaml:"downAfter,omitempty" json:"downAfter,omitempty"`
	UpAfter   int           `yaml:"upAfter,omitempty" json:"upAfter,omitempty"`
	// ProbeRate caps probes per second across the whole catalog.
	ProbeRate float64 `yaml:"probeRate,omitempty" json:"probeRate,omitempty"`
	// ProbeName is the query name used by DNS probes.
	ProbeName string `yaml:"probeName,omitempty" json:"probeName,omitempty"`
}

type StatsConfig struct {
	Buffer int `yaml:",omitempty" json:"buffer,omitempty"`
}

type Config struct {
	Groups   []*ClientGroupConfig `yaml:",omitempty" json:"groups,omitempty"`
	Egresses []*EgressConfig      `yaml:",omitempty" json:"egresses,omitempty"`
	DNS      []*DNSPolicyConfig   `yaml:"dns,omitempty" json:"dns,omitempty"`
	Matchers []*MatcherConfig     `yaml:",omitempty" json:"matchers,omitempty"`
	Rules    []*RuleConfig        `yaml:",omitempty" json:"rules,omitempty"`
	RuleSet  *RuleSetConfig       `yaml:"ruleset,omitempty" json:"ruleset,omitempty"`
	Health   *HealthConfig        `yaml:",omitempty" json:"health,omitempty"`
	Stats    *StatsConfig         `yaml:",omitempty" json:"stats,omitempty"`
	Log      *LogConfig           `yaml:",omitempty" json:"log,omitempty"`
	API      *APIConfig           `yaml:",omitempty" json:"api,omitempty"`
	Metrics  *MetricsConfig       `yaml:",omitempty" json:"metrics,omitempty"`
}

func (c *Config) Load() error {
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	return v.Unmarshal(c)
}

func (c *Config) Read(r io.Reader) error {
	if err := v.ReadConfig(r); err != nil {
		return err
	}

	return v.Unmarshal(c)
}

func (c *Config) ReadFile(file string) error {
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(c)
}

func (c *Config) Write(w io.Writer, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(c)
		return nil
	case "yaml":
		fallthrough
	default:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		enc.SetIndent(2)

		return enc.Encode(c)
	}
}

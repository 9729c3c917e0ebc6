// Package config loads and validates the process configuration. Values are
// merged from built-in defaults, an optional config file, LATENCYPROBE_*
// environment variables, and command-line flags (bound by the CLI), then
// frozen into typed structs for the rest of the process lifetime.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProtocolConfig is the cadence/timeout pair every protocol carries.
type ProtocolConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ICMPConfig configures the ICMP echo prober.
type ICMPConfig struct {
	ProtocolConfig
	// Privileged selects raw-socket ICMP instead of unprivileged UDP ping.
	Privileged bool
}

// TCPConfig configures the TCP connect prober.
type TCPConfig struct {
	ProtocolConfig
	Port int
}

// UDPConfig configures the UDP round-trip prober.
type UDPConfig struct {
	ProtocolConfig
	Port int
}

// HTTPConfig configures the HTTP GET prober. The probed URL is composed
// from scheme, the process target host, an optional port, and path.
type HTTPConfig struct {
	ProtocolConfig
	Scheme string
	Path   string
	Port   int // 0 means the scheme default
}

// InfluxConfig configures the optional InfluxDB mirror sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether the mirror sink is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// ServeConfig configures the query service.
type ServeConfig struct {
	Addr       string
	Data       string // NDJSON file or directory of *.jsonl files
	RatePerMin int
	RateBurst  int
}

// Config is the full process configuration. It is constructed once at
// startup and read-only thereafter.
type Config struct {
	Target string // host or IP probed by all protocols
	Output string // NDJSON sink path
	LogDir string

	BatchSize     int
	FlushInterval time.Duration
	PollInterval  time.Duration
	QueueSize     int
	Grace         time.Duration

	ICMP ICMPConfig
	TCP  TCPConfig
	UDP  UDPConfig
	HTTP HTTPConfig

	Influx InfluxConfig
	Serve  ServeConfig
}

// SetDefaults registers every configuration key with its default value.
// Defaults: icmp 2s/2s, tcp 5s/2s, udp 5s/2s, http 5s/2s.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output", "latency.jsonl")
	v.SetDefault("log_dir", "logs")

	v.SetDefault("batch_size", 50)
	v.SetDefault("flush_interval", time.Second)
	v.SetDefault("poll_interval", 200*time.Millisecond)
	v.SetDefault("queue_size", 1024)
	v.SetDefault("grace", 500*time.Millisecond)

	v.SetDefault("icmp.interval", 2*time.Second)
	v.SetDefault("icmp.timeout", 2*time.Second)
	v.SetDefault("icmp.privileged", false)

	v.SetDefault("tcp.interval", 5*time.Second)
	v.SetDefault("tcp.timeout", 2*time.Second)
	v.SetDefault("tcp.port", 80)

	v.SetDefault("udp.interval", 5*time.Second)
	v.SetDefault("udp.timeout", 2*time.Second)
	v.SetDefault("udp.port", 53)

	v.SetDefault("http.interval", 5*time.Second)
	v.SetDefault("http.timeout", 2*time.Second)
	v.SetDefault("http.port", 0)
	v.SetDefault("http.scheme", "http")
	v.SetDefault("http.path", "/")

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "latency")

	v.SetDefault("serve.addr", "127.0.0.1:8080")
	v.SetDefault("serve.data", "latency.jsonl")
	v.SetDefault("serve.rate_per_min", 120)
	v.SetDefault("serve.rate_burst", 60)
}

// Load reads the merged configuration out of v into an immutable Config.
// Environment variables use the LATENCYPROBE_ prefix with dots replaced by
// underscores (e.g. LATENCYPROBE_TCP_PORT).
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("LATENCYPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Target: v.GetString("target"),
		Output: v.GetString("output"),
		LogDir: v.GetString("log_dir"),

		BatchSize:     v.GetInt("batch_size"),
		FlushInterval: v.GetDuration("flush_interval"),
		PollInterval:  v.GetDuration("poll_interval"),
		QueueSize:     v.GetInt("queue_size"),
		Grace:         v.GetDuration("grace"),

		ICMP: ICMPConfig{
			ProtocolConfig: ProtocolConfig{
				Interval: v.GetDuration("icmp.interval"),
				Timeout:  v.GetDuration("icmp.timeout"),
			},
			Privileged: v.GetBool("icmp.privileged"),
		},
		TCP: TCPConfig{
			ProtocolConfig: ProtocolConfig{
				Interval: v.GetDuration("tcp.interval"),
				Timeout:  v.GetDuration("tcp.timeout"),
			},
			Port: v.GetInt("tcp.port"),
		},
		UDP: UDPConfig{
			ProtocolConfig: ProtocolConfig{
				Interval: v.GetDuration("udp.interval"),
				Timeout:  v.GetDuration("udp.timeout"),
			},
			Port: v.GetInt("udp.port"),
		},
		HTTP: HTTPConfig{
			ProtocolConfig: ProtocolConfig{
				Interval: v.GetDuration("http.interval"),
				Timeout:  v.GetDuration("http.timeout"),
			},
			Scheme: v.GetString("http.scheme"),
			Path:   v.GetString("http.path"),
			Port:   v.GetInt("http.port"),
		},

		Influx: InfluxConfig{
			URL:    v.GetString("influx.url"),
			Token:  v.GetString("influx.token"),
			Org:    v.GetString("influx.org"),
			Bucket: v.GetString("influx.bucket"),
		},
		Serve: ServeConfig{
			Addr:       v.GetString("serve.addr"),
			Data:       v.GetString("serve.data"),
			RatePerMin: v.GetInt("serve.rate_per_min"),
			RateBurst:  v.GetInt("serve.rate_burst"),
		},
	}

	return cfg, nil
}

// ValidateCollect checks the invariants the collection pipeline relies on.
func (c *Config) ValidateCollect() error {
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %v", c.FlushInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.Grace <= 0 {
		return fmt.Errorf("grace must be positive, got %v", c.Grace)
	}

	for _, pc := range []struct {
		name string
		ProtocolConfig
	}{
		{"icmp", c.ICMP.ProtocolConfig},
		{"tcp", c.TCP.ProtocolConfig},
		{"udp", c.UDP.ProtocolConfig},
		{"http", c.HTTP.ProtocolConfig},
	} {
		if pc.Interval <= 0 {
			return fmt.Errorf("%s.interval must be positive, got %v", pc.name, pc.Interval)
		}
		if pc.Timeout <= 0 {
			return fmt.Errorf("%s.timeout must be positive, got %v", pc.name, pc.Timeout)
		}
	}

	if err := validatePort("tcp.port", c.TCP.Port); err != nil {
		return err
	}
	if err := validatePort("udp.port", c.UDP.Port); err != nil {
		return err
	}
	if c.HTTP.Port != 0 {
		if err := validatePort("http.port", c.HTTP.Port); err != nil {
			return err
		}
	}
	if c.HTTP.Scheme != "http" && c.HTTP.Scheme != "https" {
		return fmt.Errorf("http.scheme must be http or https, got %q", c.HTTP.Scheme)
	}
	if !strings.HasPrefix(c.HTTP.Path, "/") {
		return fmt.Errorf("http.path must start with /, got %q", c.HTTP.Path)
	}

	if c.Influx.Enabled() {
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx.org and influx.bucket are required when influx.url is set")
		}
	}
	return nil
}

// ValidateServe checks the invariants the query service relies on.
func (c *Config) ValidateServe() error {
	if c.Serve.Addr == "" {
		return fmt.Errorf("serve.addr is required")
	}
	if c.Serve.Data == "" {
		return fmt.Errorf("serve.data is required")
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535, got %d", key, port)
	}
	return nil
}

// TCPTarget returns the host:port dialed by the TCP prober.
func (c *Config) TCPTarget() string {
	return net.JoinHostPort(c.Target, strconv.Itoa(c.TCP.Port))
}

// UDPTarget returns the host:port the UDP prober sends to.
func (c *Config) UDPTarget() string {
	return net.JoinHostPort(c.Target, strconv.Itoa(c.UDP.Port))
}

// HTTPTarget returns the URL the HTTP prober requests.
func (c *Config) HTTPTarget() string {
	host := c.Target
	if c.HTTP.Port != 0 {
		host = net.JoinHostPort(c.Target, strconv.Itoa(c.HTTP.Port))
	}
	return c.HTTP.Scheme + "://" + host + c.HTTP.Path
}

// Package config handles configuration for the server component. Values are
// layered: built-in defaults, then SNAS_* environment variables (a local
// .env file is honored), then command-line flags.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/snasd/snas/internal/api"
)

// Config holds runtime settings for the SNAS server.
type Config struct {
	NatsHost      string
	NatsPort      int
	KVBucket      string
	NatsCredsFile string
	NatsUser      string
	NatsPassword  string
	JSDomain      string

	EnableAdminMessaging bool
	EnableUserMessaging  bool
	AdminPrefix          string
	UserPrefix           string

	EnableSocket bool
	SocketPath   string

	LogFormat     string
	DefaultGroups []string

	MaxUsernameBytes int
	MaxPasswordBytes int
}

// LoadDefaults populates Config with the documented defaults.
func (c *Config) LoadDefaults() {
	c.NatsHost = "127.0.0.1"
	c.NatsPort = 4222
	c.KVBucket = "snas"
	c.AdminPrefix = api.DefaultAdminPrefix
	c.UserPrefix = api.DefaultUserPrefix
	c.SocketPath = "/var/run/snas.sock"
	c.LogFormat = "text"
	c.MaxUsernameBytes = 64
	c.MaxPasswordBytes = 1024
}

// Load builds a Config from defaults, environment, and the given
// command-line arguments (normally os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	applyEnv(cfg)
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if !c.EnableAdminMessaging && !c.EnableUserMessaging && !c.EnableSocket {
		return fmt.Errorf("no transport enabled: enable at least one of the admin messaging, user messaging, or socket APIs")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be %q or %q, got %q", "text", "json", c.LogFormat)
	}
	if c.NatsPort <= 0 || c.NatsPort > 65535 {
		return fmt.Errorf("nats port %d out of range", c.NatsPort)
	}
	if c.EnableSocket && c.SocketPath == "" {
		return fmt.Errorf("socket path must not be empty when the socket API is enabled")
	}
	if (c.NatsUser == "") != (c.NatsPassword == "") {
		return fmt.Errorf("nats user and password must be set together")
	}
	if c.NatsCredsFile != "" && c.NatsUser != "" {
		return fmt.Errorf("nats credentials file and user/password are mutually exclusive")
	}
	if _, err := api.SanitizePrefix(c.AdminPrefix, api.DefaultAdminPrefix); err != nil {
		return fmt.Errorf("admin prefix: %w", err)
	}
	if _, err := api.SanitizePrefix(c.UserPrefix, api.DefaultUserPrefix); err != nil {
		return fmt.Errorf("user prefix: %w", err)
	}
	if c.MaxUsernameBytes <= 0 || c.MaxPasswordBytes <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	return nil
}

// URL returns the NATS server URL.
func (c *Config) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.NatsHost, c.NatsPort)
}

// parseFlags populates Config fields from command-line flags. Flag defaults
// come from the already-applied defaults and environment, so flags win.
func parseFlags(c *Config, args []string) error {
	fs := flag.NewFlagSet("snas-server", flag.ContinueOnError)

	fs.StringVar(&c.NatsHost, "nats-host", c.NatsHost, "NATS server host")
	fs.IntVar(&c.NatsPort, "nats-port", c.NatsPort, "NATS server port")
	fs.StringVar(&c.KVBucket, "kv-bucket", c.KVBucket, "name of the KeyValue bucket used for storage")
	fs.StringVar(&c.NatsCredsFile, "creds", c.NatsCredsFile, "path to a NATS credentials file")
	fs.StringVar(&c.NatsUser, "nats-user", c.NatsUser, "username for NATS authentication")
	fs.StringVar(&c.NatsPassword, "nats-password", c.NatsPassword, "password for NATS authentication")
	fs.StringVar(&c.JSDomain, "js-domain", c.JSDomain, "JetStream domain to connect to")
	fs.BoolVar(&c.EnableAdminMessaging, "admin-nats", c.EnableAdminMessaging, "listen on the admin messaging API subjects")
	fs.BoolVar(&c.EnableUserMessaging, "user-nats", c.EnableUserMessaging, "listen on the user messaging API subjects")
	fs.StringVar(&c.AdminPrefix, "admin-prefix", c.AdminPrefix, "subject prefix for the admin messaging API (default snas.admin)")
	fs.StringVar(&c.UserPrefix, "user-prefix", c.UserPrefix, "subject prefix for the user messaging API (default snas.user)")
	fs.BoolVar(&c.EnableSocket, "user-socket", c.EnableSocket, "listen on the local user socket")
	fs.StringVar(&c.SocketPath, "socket-file", c.SocketPath, "path to the user API socket file")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log output format: text or json")
	groups := fs.String("default-groups", strings.Join(c.DefaultGroups, ","), "comma-separated groups applied to new users created without any")
	fs.IntVar(&c.MaxUsernameBytes, "max-username-bytes", c.MaxUsernameBytes, "maximum accepted username length in bytes")
	fs.IntVar(&c.MaxPasswordBytes, "max-password-bytes", c.MaxPasswordBytes, "maximum accepted password length in bytes")

	if err := fs.Parse(args); err != nil {
		return err
	}
	c.DefaultGroups = splitGroups(*groups)
	return nil
}

func splitGroups(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if g := strings.TrimSpace(p); g != "" {
			out = append(out, g)
		}
	}
	return out
}

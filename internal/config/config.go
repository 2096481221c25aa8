package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is small and YAML-friendly. Every field can also be set by a flag;
// the most common ones by environment variable too.
type Config struct {
	// Host is the listen address. Empty or 0.0.0.0 means all interfaces.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Dir is the drop directory. Default: <os temp dir>/filedrop
	Dir string `yaml:"dir"`

	// MaxUploadBytes caps one upload request body.
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`

	// Templates selects the page template source: empty for the copy built
	// into the binary, or a file path that is watched and reloaded on change.
	Templates string `yaml:"templates,omitempty"`

	// Title is shown in the page header and the browser tab.
	Title string `yaml:"title,omitempty"`

	// Minify compresses the listing page HTML.
	Minify bool `yaml:"minify,omitempty"`

	// WebDAV mounts the drop directory at /dav/.
	WebDAV bool `yaml:"webdav,omitempty"`

	// TerminalQR prints the preferred URL as a QR code at startup.
	TerminalQR bool `yaml:"terminalQR"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8000,
		Dir:            filepath.Join(os.TempDir(), "filedrop"),
		MaxUploadBytes: 512 << 20,
		Title:          "filedrop",
		TerminalQR:     true,
	}
}

// Addr returns host:port for net.Listen.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("config: dir is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: maxUploadBytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays FILEDROP_* environment variables onto c.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("FILEDROP_HOST"); v != "" {
		c.Host = v
	}
	if v := getenv("FILEDROP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FILEDROP_PORT: %w", err)
		}
		c.Port = p
	}
	if v := getenv("FILEDROP_DIR"); v != "" {
		c.Dir = v
	}
	if v := getenv("FILEDROP_TEMPLATES"); v != "" {
		c.Templates = v
	}
	return nil
}

// Load builds the configuration from defaults, then the optional -config
// file, then the environment, then explicitly set flags.
func Load(args []string, getenv func(string) string) (Config, error) {
	def := Default()
	fs := flag.NewFlagSet("filedrop", flag.ContinueOnError)
	var (
		cfgPath   = fs.String("config", "", "path to config yaml (optional)")
		host      = fs.String("host", def.Host, "listen host")
		port      = fs.Int("port", def.Port, "listen port")
		dir       = fs.String("dir", def.Dir, "drop directory")
		maxUpload = fs.Int64("max-upload", def.MaxUploadBytes, "maximum upload request size in bytes")
		templates = fs.String("templates", "", "page template file (default: built-in)")
		title     = fs.String("title", def.Title, "page title")
		minify    = fs.Bool("minify", false, "minify the listing page")
		webdav    = fs.Bool("webdav", false, "serve the drop directory over WebDAV at /dav/")
		termQR    = fs.Bool("qr", def.TerminalQR, "print a QR code for the preferred URL at startup")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if *cfgPath != "" {
		if err := cfg.LoadFile(*cfgPath); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "dir":
			cfg.Dir = *dir
		case "max-upload":
			cfg.MaxUploadBytes = *maxUpload
		case "templates":
			cfg.Templates = *templates
		case "title":
			cfg.Title = *title
		case "minify":
			cfg.Minify = *minify
		case "webdav":
			cfg.WebDAV = *webdav
		case "qr":
			cfg.TerminalQR = *termQR
		}
	})
	return cfg, cfg.Validate()
}

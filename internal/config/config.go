// Package config loads the gateway's configuration file (§6: INI-style
// sections general/webserver/certificates/nat/media) with
// github.com/spf13/viper, and overlays it with CLI flags bound through
// github.com/spf13/pflag, per the "each flag overrides the corresponding
// config key" rule.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved, flag-overlaid configuration the
// lifecycle/supervisor uses to initialize every subsystem.
type Config struct {
	Interface      string
	ConfigsFolder  string
	PluginsFolder  string

	HTTPEnabled  bool
	HTTPPort     int
	HTTPSEnabled bool
	SecurePort   int
	BasePath     string

	CertPEM string
	CertKey string

	STUNServer string
	STUNPort   int
	PublicIP   string

	RTPPortMin int
	RTPPortMax int
}

// Flags binds the §6 CLI flags onto fs. Call Parse on fs before Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("interface", "", "outbound network interface IP")
	fs.String("configs-folder", "", "path to the configuration directory")
	fs.String("plugins-folder", "", "path to the plugin modules directory")
	fs.Bool("disable-http", false, "disable the plain HTTP listener")
	fs.Int("port", 0, "plain HTTP port")
	fs.Int("secure-port", 0, "HTTPS port")
	fs.String("base", "", "base path, e.g. /janus")
	fs.String("cert-pem", "", "path to the PEM certificate file")
	fs.String("cert-key", "", "path to the PEM certificate key file")
	fs.String("stun-server", "", "STUN server as host[:port]")
	fs.String("public-ip", "", "public IP address to advertise in candidates")
	fs.String("rtp-port-range", "", "RTP port range as min-max")
}

// defaults applied when neither the file nor a flag sets a value.
const (
	defaultBasePath   = "/janus"
	defaultHTTPPort   = 8088
	defaultSTUNPort   = 3478
)

// Load reads the configuration file at configFile (tolerating a missing
// file only when explicit is false, matching §6), then overlays any CLI
// flags that were actually set on fs.
func Load(configFile string, explicit bool, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if explicit {
				return nil, fmt.Errorf("config: reading %q: %w", configFile, err)
			}
		}
	}

	cfg := &Config{
		Interface:     v.GetString("general.interface"),
		ConfigsFolder: v.GetString("general.configs_folder"),
		PluginsFolder: v.GetString("general.plugins_folder"),

		HTTPEnabled: v.GetBool("webserver.http") || !v.IsSet("webserver.http"),
		HTTPPort:    intOrDefault(v.GetInt("webserver.port"), defaultHTTPPort),
		BasePath:    stringOrDefault(v.GetString("webserver.base_path"), defaultBasePath),

		HTTPSEnabled: v.GetBool("webserver.https"),
		SecurePort:   v.GetInt("webserver.secure_port"),

		CertPEM: v.GetString("certificates.cert_pem"),
		CertKey: v.GetString("certificates.cert_key"),

		STUNServer: v.GetString("nat.stun_server"),
		STUNPort:   intOrDefault(v.GetInt("nat.stun_port"), defaultSTUNPort),
		PublicIP:   v.GetString("nat.public_ip"),
	}
	if r := v.GetString("media.rtp_port_range"); r != "" {
		lo, hi, err := parseRange(r)
		if err != nil {
			return nil, fmt.Errorf("config: media.rtp_port_range: %w", err)
		}
		cfg.RTPPortMin, cfg.RTPPortMax = lo, hi
	}

	overlayFlags(cfg, fs)

	if cfg.BasePath == "" {
		cfg.BasePath = defaultBasePath
	}
	cfg.BasePath = "/" + strings.TrimSuffix(strings.TrimPrefix(cfg.BasePath, "/"), "/")

	return cfg, nil
}

func overlayFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	in := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}

	str("interface", &cfg.Interface)
	str("configs-folder", &cfg.ConfigsFolder)
	str("plugins-folder", &cfg.PluginsFolder)
	if fs.Changed("disable-http") {
		v, _ := fs.GetBool("disable-http")
		cfg.HTTPEnabled = !v
	}
	in("port", &cfg.HTTPPort)
	in("secure-port", &cfg.SecurePort)
	if fs.Changed("secure-port") {
		cfg.HTTPSEnabled = true
	}
	str("base", &cfg.BasePath)
	str("cert-pem", &cfg.CertPEM)
	str("cert-key", &cfg.CertKey)
	str("public-ip", &cfg.PublicIP)

	if fs.Changed("stun-server") {
		v, _ := fs.GetString("stun-server")
		host, port := v, defaultSTUNPort
		if h, p, ok := strings.Cut(v, ":"); ok {
			host = h
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
		cfg.STUNServer = host
		cfg.STUNPort = port
	}
	if fs.Changed("rtp-port-range") {
		v, _ := fs.GetString("rtp-port-range")
		if lo, hi, err := parseRange(v); err == nil {
			cfg.RTPPortMin, cfg.RTPPortMax = lo, hi
		}
	}
}

func parseRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("expected min-max, got %q", s)
	}
	loN, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid min %q: %w", lo, err)
	}
	hiN, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid max %q: %w", hi, err)
	}
	if loN <= 0 || hiN <= 0 || loN > hiN {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	return loN, hiN, nil
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func stringOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

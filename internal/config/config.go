// Package config loads daemon configuration from command line flags and
// environment variables. Environment wins over flags so container deployments
// can override without changing the command line.
package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the callbridge daemon configuration.
type Config struct {
	// SIP settings
	SIPPort       int
	BindAddr      string
	AdvertiseAddr string
	BackendAddr   string
	BackendHost   string
	Identity      string

	// Media advertised in SDP
	MediaAddr string
	MediaPort int

	// Control API
	APIAddr string

	// Auth
	TokenURL string

	// Device registry
	RedisAddr string
	DeviceID  string
	Region    string

	// Bootstrap timing
	BootstrapBudget time.Duration
	TokenMargin     time.Duration

	LogLevel string
}

// Load loads configuration from command line flags and environment variables.
func Load() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.SIPPort, "sip-port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.BackendAddr, "backend", "localhost:5060", "Signaling backend address (host:port)")
	flag.StringVar(&cfg.BackendHost, "backend-host", "", "SIP domain for request URIs (defaults to backend host)")
	flag.StringVar(&cfg.Identity, "identity", "callbridge", "Local SIP identity")
	flag.StringVar(&cfg.MediaAddr, "media-addr", "", "Media address advertised in SDP (defaults to advertise address)")
	flag.IntVar(&cfg.MediaPort, "media-port", 10000, "Media port advertised in SDP")
	flag.StringVar(&cfg.APIAddr, "api", "0.0.0.0:8080", "Control API listen address")
	flag.StringVar(&cfg.TokenURL, "token-url", "", "Session token refresh endpoint")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for the device registry (in-memory if empty)")
	flag.StringVar(&cfg.DeviceID, "device-id", "", "Device id for push registration")
	flag.StringVar(&cfg.Region, "region", "", "Backend region hint")
	flag.DurationVar(&cfg.BootstrapBudget, "bootstrap-budget", 5*time.Second, "Time budget for push-triggered session bootstrap")
	flag.DurationVar(&cfg.TokenMargin, "token-margin", 10*time.Second, "Remaining token validity required to skip a refresh")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if port := os.Getenv("SIP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SIPPort = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	if backend := os.Getenv("BACKEND_ADDR"); backend != "" {
		cfg.BackendAddr = backend
	}
	if host := os.Getenv("BACKEND_HOST"); host != "" {
		cfg.BackendHost = host
	}
	if api := os.Getenv("API_ADDR"); api != "" {
		cfg.APIAddr = api
	}
	if url := os.Getenv("TOKEN_URL"); url != "" {
		cfg.TokenURL = url
	}
	if redis := os.Getenv("REDIS_ADDR"); redis != "" {
		cfg.RedisAddr = redis
	}
	if device := os.Getenv("DEVICE_ID"); device != "" {
		cfg.DeviceID = device
	}
	if region := os.Getenv("REGION"); region != "" {
		cfg.Region = region
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}

	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if cfg.MediaAddr == "" {
		cfg.MediaAddr = cfg.AdvertiseAddr
	}

	return cfg
}

// isValidAddress checks if the address is a valid IP or resolvable hostname.
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address.
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

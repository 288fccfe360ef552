package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the cast-bridge runtime settings.
// Load from env and/or a .env file; flags in cmd/cast-bridge may override.
type Config struct {
	// Listen address for the control plane and media server. Devices pull
	// media from this port, so it must be reachable from the LAN.
	Addr string // e.g. ":9876" or "192.168.1.10:9876"
	Port int

	// Media
	MediaRoot    string // allow-listed root for /media/...
	SubtitleRoot string // sidecar .vtt files for /subtitles/<id>.vtt

	// Discovery
	FriendlyName     string
	DiscoveryTimeout time.Duration // per refresh run (mDNS browse + SSDP receive window)
	SSDPDisabled     bool
	MDNSDisabled     bool
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load()
// to use a .env file.
func Load() *Config {
	port := getEnvInt("CAST_BRIDGE_PORT", 0)
	if port == 0 {
		// PORT is honored as a fallback for launcher compatibility.
		port = getEnvInt("PORT", 9876)
	}
	c := &Config{
		Addr:             getEnv("CAST_BRIDGE_ADDR", ""),
		Port:             port,
		MediaRoot:        getEnv("CAST_BRIDGE_MEDIA_ROOT", "."),
		SubtitleRoot:     getEnv("CAST_BRIDGE_SUBTITLE_ROOT", ""),
		FriendlyName:     getEnv("CAST_BRIDGE_FRIENDLY_NAME", "Cast Bridge"),
		DiscoveryTimeout: getEnvDuration("CAST_BRIDGE_DISCOVERY_TIMEOUT", 6*time.Second),
		SSDPDisabled:     getEnvBool("CAST_BRIDGE_SSDP_DISABLED", false),
		MDNSDisabled:     getEnvBool("CAST_BRIDGE_MDNS_DISABLED", false),
	}
	if c.Addr == "" {
		c.Addr = fmt.Sprintf(":%d", c.Port)
	}
	if c.SubtitleRoot == "" {
		c.SubtitleRoot = c.MediaRoot
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 6 * time.Second
	}
	return c
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

package device

import (
	"fmt"
	"hash/fnv"
)

// Type identifies which protocol client can drive a device.
type Type string

const (
	TypeChromecast Type = "chromecast"
	TypeDLNA       Type = "dlna"
	TypeAirPlay    Type = "airplay"
)

// Capabilities describes what a playback endpoint can accept.
// Discovery fills these with per-protocol defaults; they are advisory
// (the helper does not transcode, so callers use them to warn, not gate).
type Capabilities struct {
	MaxWidth        int      `json:"maxWidth"`
	MaxHeight       int      `json:"maxHeight"`
	VideoCodecs     []string `json:"videoCodecs"`
	AudioCodecs     []string `json:"audioCodecs"`
	HDR             bool     `json:"hdr"`
	DolbyVision     bool     `json:"dolbyVision"`
	SubtitleFormats []string `json:"subtitleFormats"`
}

// Device is one discovered playback endpoint. Address is the bare host
// for every protocol; dlna endpoints additionally carry the description
// URL their control URLs are resolved from.
type Device struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Type           Type         `json:"type"`
	Address        string       `json:"address"`
	Port           int          `json:"port"`
	DescriptionURL string       `json:"descriptionUrl,omitempty"` // dlna only: full device description URL
	Capabilities   Capabilities `json:"capabilities"`
}

// HashID builds a stable id for a protocol + endpoint key (mDNS instance
// name or SSDP UDN). FNV-1a: deterministic across resolutions of the same
// endpoint within and across runs.
func HashID(protocol Type, key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return fmt.Sprintf("%s-%08x", protocol, h.Sum32())
}

// ChromecastCapabilities is the default set for a cast endpoint.
func ChromecastCapabilities() Capabilities {
	return Capabilities{
		MaxWidth:        3840,
		MaxHeight:       2160,
		VideoCodecs:     []string{"h264", "hevc", "vp8", "vp9"},
		AudioCodecs:     []string{"aac", "mp3", "opus", "vorbis"},
		HDR:             true,
		DolbyVision:     false,
		SubtitleFormats: []string{"vtt"},
	}
}

// AirPlayCapabilities is the default set for an AirPlay endpoint.
func AirPlayCapabilities() Capabilities {
	return Capabilities{
		MaxWidth:        3840,
		MaxHeight:       2160,
		VideoCodecs:     []string{"h264", "hevc"},
		AudioCodecs:     []string{"aac", "ac3", "eac3"},
		HDR:             true,
		DolbyVision:     true,
		SubtitleFormats: []string{"vtt"},
	}
}

// DLNACapabilities is the default set for a MediaRenderer. Renderers vary
// widely; this is the conservative baseline.
func DLNACapabilities() Capabilities {
	return Capabilities{
		MaxWidth:        1920,
		MaxHeight:       1080,
		VideoCodecs:     []string{"h264", "mpeg2"},
		AudioCodecs:     []string{"aac", "mp3", "ac3"},
		HDR:             false,
		DolbyVision:     false,
		SubtitleFormats: []string{"vtt", "srt"},
	}
}

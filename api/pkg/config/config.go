// Package config loads the compositor daemon's settings from the
// environment (with an optional .env file for local development),
// following the same envconfig/godotenv pattern the rest of this
// module's tooling uses.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	// DRMDevice is the render-node path to open, e.g. /dev/dri/card0.
	DRMDevice string `envconfig:"DRM_DEVICE" default:"/dev/dri/card0"`

	// UseOverlayPlanes is read at startup and, when false, only logged:
	// the planner and the hwc facade do not consult it, so overlay
	// planes take part in planning either way.
	UseOverlayPlanes bool `envconfig:"USE_OVERLAY_PLANES" default:"true"`

	// UseFramebufferCache is read at startup and, when false, only
	// logged: the fb_id reuse cache stays in use either way.
	UseFramebufferCache bool `envconfig:"USE_FRAMEBUFFER_CACHE" default:"true"`

	// HotplugPollInterval, in milliseconds, is the fsnotify-fallback
	// poll period used when the kernel's hotplug netlink socket isn't
	// available.
	HotplugPollIntervalMS int `envconfig:"HOTPLUG_POLL_INTERVAL_MS" default:"1000"`

	// LogLevel is one of zerolog's level names (debug/info/warn/error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogPretty enables zerolog's human-readable console writer instead
	// of structured JSON; meant for interactive/local runs only.
	LogPretty bool `envconfig:"LOG_PRETTY" default:"false"`
}

const envPrefix = "HWC"

// Load reads configuration from the environment, first merging in
// dotenvPath if it exists (missing files are not an error).
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", dotenvPath, err)
		}
	}
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

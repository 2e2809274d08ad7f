// Package config loads deployment settings from the environment, with an
// optional .env file for development. Every value has a default suitable for
// a single-LAN deployment; subcommand flags may override them.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/beamlab/beamcast"
	"github.com/beamlab/beamcast/codec"
	"github.com/beamlab/beamcast/transport"
	"github.com/beamlab/beamcast/wire"
)

// Config collects the tunables of both streaming roles.
type Config struct {
	// Group is the well-known multicast group and port, fixed per
	// deployment.
	Group string
	// Interface optionally pins the receiver's multicast join.
	Interface string

	ChunkSize int
	TTL       int

	TargetFPS int
	MinFPS    int
	MaxFPS    int

	JPEGQuality int
	MaxWidth    int

	FrameTimeout time.Duration
	MaxPending   int

	// APIAddr serves the stats and metrics API; empty disables it.
	APIAddr string
}

// Load reads an optional .env file and resolves the configuration. A missing
// .env is not an error; the system environment and defaults apply.
func Load(paths ...string) Config {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	_ = godotenv.Load(paths...)

	pacer := beamcast.DefaultPacerConfig()
	return Config{
		Group:        getEnv("BEAMCAST_GROUP", transport.DefaultGroup),
		Interface:    getEnv("BEAMCAST_INTERFACE", ""),
		ChunkSize:    getEnvInt("BEAMCAST_CHUNK_SIZE", wire.DefaultMaxChunkSize),
		TTL:          getEnvInt("BEAMCAST_TTL", transport.DefaultTTL),
		TargetFPS:    getEnvInt("BEAMCAST_FPS", pacer.TargetFPS),
		MinFPS:       getEnvInt("BEAMCAST_MIN_FPS", pacer.MinFPS),
		MaxFPS:       getEnvInt("BEAMCAST_MAX_FPS", pacer.MaxFPS),
		JPEGQuality:  getEnvInt("BEAMCAST_JPEG_QUALITY", codec.DefaultQuality),
		MaxWidth:     getEnvInt("BEAMCAST_MAX_WIDTH", codec.DefaultMaxWidth),
		FrameTimeout: getEnvDuration("BEAMCAST_FRAME_TIMEOUT", transport.DefaultFrameTimeout),
		MaxPending:   getEnvInt("BEAMCAST_MAX_PENDING", transport.DefaultMaxPending),
		APIAddr:      getEnv("BEAMCAST_API_ADDR", ""),
	}
}

// PacerConfig builds the pacer tunables from the loaded values.
func (c Config) PacerConfig() beamcast.PacerConfig {
	pc := beamcast.DefaultPacerConfig()
	pc.TargetFPS = c.TargetFPS
	pc.MinFPS = c.MinFPS
	pc.MaxFPS = c.MaxFPS
	return pc
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

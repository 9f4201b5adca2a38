package core

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type Backend string

const (
	BackendVulkan   Backend = "vulkan"
	BackendHeadless Backend = "headless"
)

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Logging     LoggingConfig     `toml:"logging"`
	Renderer    RendererConfig    `toml:"renderer"`
	Memory      MemoryConfig      `toml:"memory"`
	Pools       PoolConfig        `toml:"pools"`
}

type ApplicationConfig struct {
	Name   string `toml:"name"`
	StartX uint32 `toml:"start_x"`
	StartY uint32 `toml:"start_y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// watched for changes while running
	AssetDir string `toml:"asset_dir"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	Backend          Backend    `toml:"backend"`
	FramesInFlight   int        `toml:"frames_in_flight"`
	FenceTimeoutMS   int64      `toml:"fence_timeout_ms"`
	AcquireTimeoutMS int64      `toml:"acquire_timeout_ms"`
	ShaderDir        string     `toml:"shader_dir"`
	ClearColor       [4]float32 `toml:"clear_color"`
	Validation       bool       `toml:"validation"`
	// how many times the engine rebuilds the renderer after a device loss before giving up
	MaxDeviceResets int `toml:"max_device_resets"`
}

func (c RendererConfig) FenceTimeout() time.Duration {
	return time.Duration(c.FenceTimeoutMS) * time.Millisecond
}

func (c RendererConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// MemoryConfig sizes are in bytes. A zero budget means unlimited.
type MemoryConfig struct {
	DeviceLocalBlockSize uint64 `toml:"device_local_block_size"`
	HostVisibleBlockSize uint64 `toml:"host_visible_block_size"`
	StagingBlockSize     uint64 `toml:"staging_block_size"`
	DeviceLocalBudget    uint64 `toml:"device_local_budget"`
	HostVisibleBudget    uint64 `toml:"host_visible_budget"`
	StagingBudget        uint64 `toml:"staging_budget"`
}

type PoolConfig struct {
	InitialCapacity uint32  `toml:"initial_capacity"`
	GrowthFactor    float32 `toml:"growth_factor"`
	MaxPoolSize     uint32  `toml:"max_pool_size"`
}

const (
	MaxFramesInFlight = 3
	mebibyte          = 1 << 20
)

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:     "Anima",
			StartX:   100,
			StartY:   100,
			Width:    1280,
			Height:   720,
			AssetDir: "assets",
		},
		Logging: LoggingConfig{Level: "info"},
		Renderer: RendererConfig{
			Backend:          BackendVulkan,
			FramesInFlight:   2,
			FenceTimeoutMS:   2000,
			AcquireTimeoutMS: 2000,
			ShaderDir:        "assets/shaders",
			ClearColor:       [4]float32{0.0, 0.0, 0.2, 1.0},
			Validation:       true,
			MaxDeviceResets:  2,
		},
		Memory: MemoryConfig{
			DeviceLocalBlockSize: 64 * mebibyte,
			HostVisibleBlockSize: 16 * mebibyte,
			StagingBlockSize:     16 * mebibyte,
		},
		Pools: PoolConfig{
			InitialCapacity: 64,
			GrowthFactor:    1.5,
			MaxPoolSize:     16384,
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file is not
// an error: the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			LogWarn("config file %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := ParseConfig(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes data into cfg, keeping the values of absent keys.
func ParseConfig(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	r := c.Renderer
	switch r.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return errors.Newf("unknown renderer backend %q", r.Backend)
	}
	if r.FramesInFlight < 1 || r.FramesInFlight > MaxFramesInFlight {
		return errors.Newf("frames_in_flight must be in [1, %d], got %d", MaxFramesInFlight, r.FramesInFlight)
	}
	if r.FenceTimeoutMS <= 0 || r.AcquireTimeoutMS <= 0 {
		return errors.New("fence and acquire timeouts must be positive")
	}
	if r.MaxDeviceResets < 0 {
		return errors.New("max_device_resets cannot be negative")
	}
	p := c.Pools
	if p.InitialCapacity == 0 || p.MaxPoolSize < p.InitialCapacity {
		return errors.Newf("pool sizes invalid: initial %d, max %d", p.InitialCapacity, p.MaxPoolSize)
	}
	if p.GrowthFactor <= 1 {
		return errors.Newf("growth_factor must be greater than 1, got %f", p.GrowthFactor)
	}
	m := c.Memory
	if m.DeviceLocalBlockSize == 0 || m.HostVisibleBlockSize == 0 || m.StagingBlockSize == 0 {
		return errors.New("memory block sizes must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/thebowwman/fleetcast/internals/geo"
	"github.com/thebowwman/fleetcast/internals/hub"
	"github.com/thebowwman/fleetcast/internals/sim"
	"github.com/thebowwman/fleetcast/internals/store"
)

const DevSecret = "dev-secret-change-me"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Sim    SimConfig    `mapstructure:"sim"`
	Hub    HubConfig    `mapstructure:"hub"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	EvictAfter       time.Duration `mapstructure:"evict_after"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	GeohashPrecision uint          `mapstructure:"geohash_precision"`
}

type SimConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	MinSpeed         float64       `mapstructure:"min_speed"`
	MaxSpeed         float64       `mapstructure:"max_speed"`
	SpeedJitter      float64       `mapstructure:"speed_jitter"`
	SpeedFloor       float64       `mapstructure:"speed_floor"`
	SpeedCeil        float64       `mapstructure:"speed_ceil"`
	PositionJitterM  float64       `mapstructure:"position_jitter_m"`
	HeadingJitterDeg float64       `mapstructure:"heading_jitter_deg"`
	Accuracy         float64       `mapstructure:"accuracy"`
	RouteClass       string        `mapstructure:"route_class"`
	TrafficFactor    float64       `mapstructure:"traffic_factor"`
}

type HubConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	OriginPatterns    []string      `mapstructure:"origin_patterns"`
}

func (c StoreConfig) Options() store.Options {
	return store.Options{
		StaleAfter:       c.StaleAfter,
		EvictAfter:       c.EvictAfter,
		GeohashPrecision: c.GeohashPrecision,
	}
}

func (c SimConfig) Options() sim.Options {
	return sim.Options{
		Interval:         c.Interval,
		MinSpeed:         c.MinSpeed,
		MaxSpeed:         c.MaxSpeed,
		SpeedJitter:      c.SpeedJitter,
		SpeedFloor:       c.SpeedFloor,
		SpeedCeil:        c.SpeedCeil,
		PositionJitterM:  c.PositionJitterM,
		HeadingJitterDeg: c.HeadingJitterDeg,
		Accuracy:         c.Accuracy,
		RouteClass:       geo.RouteClass(c.RouteClass),
		TrafficFactor:    c.TrafficFactor,
	}
}

func (c HubConfig) Options() hub.Options {
	return hub.Options{
		HeartbeatInterval: c.HeartbeatInterval,
		SendBuffer:        c.SendBuffer,
		WriteTimeout:      c.WriteTimeout,
		ReadLimit:         c.ReadLimit,
		OriginPatterns:    c.OriginPatterns,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("auth.secret", DevSecret)
	v.SetDefault("auth.token_ttl", 4*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	st := store.DefaultOptions()
	v.SetDefault("store.stale_after", st.StaleAfter)
	v.SetDefault("store.evict_after", st.EvictAfter)
	v.SetDefault("store.sweep_interval", time.Minute)
	v.SetDefault("store.geohash_precision", st.GeohashPrecision)

	sm := sim.DefaultOptions()
	v.SetDefault("sim.interval", sm.Interval)
	v.SetDefault("sim.min_speed", sm.MinSpeed)
	v.SetDefault("sim.max_speed", sm.MaxSpeed)
	v.SetDefault("sim.speed_jitter", sm.SpeedJitter)
	v.SetDefault("sim.speed_floor", sm.SpeedFloor)
	v.SetDefault("sim.speed_ceil", sm.SpeedCeil)
	v.SetDefault("sim.position_jitter_m", sm.PositionJitterM)
	v.SetDefault("sim.heading_jitter_deg", sm.HeadingJitterDeg)
	v.SetDefault("sim.accuracy", sm.Accuracy)
	v.SetDefault("sim.route_class", string(sm.RouteClass))
	v.SetDefault("sim.traffic_factor", sm.TrafficFactor)

	hb := hub.DefaultOptions()
	v.SetDefault("hub.heartbeat_interval", hb.HeartbeatInterval)
	v.SetDefault("hub.send_buffer", hb.SendBuffer)
	v.SetDefault("hub.write_timeout", hb.WriteTimeout)
	v.SetDefault("hub.read_limit", hb.ReadLimit)
	v.SetDefault("hub.origin_patterns", []string{})
}

// Source reads configuration from defaults, an optional YAML file and FLEETCAST_* env vars.
type Source struct {
	v    *viper.Viper
	path string
}

// NewSource prepares a source. An empty path looks for ./config.yaml and tolerates its absence.
func NewSource(path string) *Source {
	// optional .env for local runs
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLEETCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	return &Source{v: v, path: path}
}

func (s *Source) Load() (*Config, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if s.path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return s.decode()
}

func (s *Source) decode() (*Config, error) {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads on file changes and hands each valid config to fn.
// It is a no-op when no config file was found.
func (s *Source) Watch(fn func(*Config)) bool {
	if s.v.ConfigFileUsed() == "" {
		return false
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := s.decode()
		if err != nil {
			return
		}
		fn(cfg)
	})
	s.v.WatchConfig()
	return true
}

package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDirName = "store"
)

type Logging struct {
	Level string `yaml:"level"`
}

type Locks struct {
	// AcquireTimeout bounds how long an operation waits for its named locks.
	// Zero waits until the request is cancelled.
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
}

type SatelliteState struct {
	// TTL drops cached device state not refreshed within it. Zero keeps it
	// until the stream closes.
	TTL time.Duration `yaml:"ttl"`
}

type AutoDiskful struct {
	Delay         time.Duration `yaml:"delay"`
	CheckInterval time.Duration `yaml:"checkInterval"`
}

type Ingress struct {
	Limit           float64 `yaml:"limit"` // Events per second per satellite
	Burst           int     `yaml:"burst"`
	ReadBufferSize  int     `yaml:"readBufferSize"`
	WriteBufferSize int     `yaml:"writeBufferSize"`
	MaxConnections  int     `yaml:"maxConnections"`
}

type TCPPorts struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type Controller struct {
	DataDir        string         `yaml:"dataDir"`
	Listen         string         `yaml:"listen"` // satellite event ingress
	Logging        Logging        `yaml:"logging"`
	Locks          Locks          `yaml:"locks"`
	SatelliteState SatelliteState `yaml:"satelliteState"`
	AutoDiskful    AutoDiskful    `yaml:"autoDiskful"`
	Ingress        Ingress        `yaml:"ingress"`
	TCPPorts       TCPPorts       `yaml:"tcpPorts"`
}

var (
	ErrConfigFileUnreadable            = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable        = errors.New("config file is unmarshallable")
	ErrDataDirMissing                  = errors.New("dataDir is missing in config and is required for the object store")
	ErrListenMissing                   = errors.New("listen is missing in config")
	ErrLocksAcquireTimeoutInvalid      = errors.New("locks.acquireTimeout must not be negative")
	ErrSatelliteStateTTLInvalid        = errors.New("satelliteState.ttl must not be negative")
	ErrAutoDiskfulDelayMissing         = errors.New("autoDiskful.delay is missing or invalid in config")
	ErrAutoDiskfulCheckIntervalMissing = errors.New("autoDiskful.checkInterval is missing or invalid in config")
	ErrIngressLimitMissing             = errors.New("ingress.limit is missing or invalid in config")
	ErrIngressBurstMissing             = errors.New("ingress.burst is missing or invalid in config")
	ErrIngressReadBufferSizeMissing    = errors.New("ingress.readBufferSize is missing or invalid in config")
	ErrIngressWriteBufferSizeMissing   = errors.New("ingress.writeBufferSize is missing or invalid in config")
	ErrIngressMaxConnectionsMissing    = errors.New("ingress.maxConnections is missing or invalid in config")
	ErrTCPPortsInvalid                 = errors.New("tcpPorts must satisfy 1 <= min <= max <= 65535")
)

func LoadConfig(configFile string) (*Controller, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Controller
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.DataDir == "" {
		return nil, ErrDataDirMissing
	}
	if cfg.Listen == "" {
		return nil, ErrListenMissing
	}

	if cfg.Locks.AcquireTimeout < 0 {
		return nil, ErrLocksAcquireTimeoutInvalid
	}
	if cfg.SatelliteState.TTL < 0 {
		return nil, ErrSatelliteStateTTLInvalid
	}

	if cfg.AutoDiskful.Delay <= 0 {
		return nil, ErrAutoDiskfulDelayMissing
	}
	if cfg.AutoDiskful.CheckInterval <= 0 {
		return nil, ErrAutoDiskfulCheckIntervalMissing
	}

	if cfg.Ingress.Limit <= 0 {
		return nil, ErrIngressLimitMissing
	}
	if cfg.Ingress.Burst <= 0 {
		return nil, ErrIngressBurstMissing
	}
	if cfg.Ingress.ReadBufferSize <= 0 {
		return nil, ErrIngressReadBufferSizeMissing
	}
	if cfg.Ingress.WriteBufferSize <= 0 {
		return nil, ErrIngressWriteBufferSizeMissing
	}
	if cfg.Ingress.MaxConnections <= 0 {
		return nil, ErrIngressMaxConnectionsMissing
	}

	// an absent range falls back to the controller defaults
	if cfg.TCPPorts != (TCPPorts{}) {
		p := cfg.TCPPorts
		if p.Min < 1 || p.Max > 65535 || p.Min > p.Max {
			return nil, ErrTCPPortsInvalid
		}
	}

	return &cfg, nil
}

func GenerateConfig(configFile string) (*Controller, error) {
	cfg := Controller{
		DataDir: "data/strata", // Relative path for easier default setup
		Listen:  "127.0.0.1:3370",
		Logging: Logging{Level: "info"},
		Locks: Locks{
			AcquireTimeout: 30 * time.Second,
		},
		SatelliteState: SatelliteState{
			TTL: 0,
		},
		AutoDiskful: AutoDiskful{
			Delay:         10 * time.Minute,
			CheckInterval: 30 * time.Second,
		},
		Ingress: Ingress{
			Limit:           200.0,
			Burst:           400,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			MaxConnections:  256,
		},
		TCPPorts: TCPPorts{Min: 7000, Max: 7999},
	}

	// The configFile argument is not used to generate the content; writing
	// the file is up to the caller.
	return &cfg, nil
}

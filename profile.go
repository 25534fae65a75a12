package elmuds

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration read from strings like "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Profile describes one adapter setup:
//
//	[profile.freematics]
//	adapter     = "ELM327"
//	port        = "/dev/ttyUSB0"
//	baudrate    = 115200
//	filter_mode = "masked"
//	strategies  = ["raw", "pci", "padded"]
//	sniff_on    = "ATM1"
//	sniff_off   = "ATM0"
//	exchange_timeout = "1s"
type Profile struct {
	Name         string         `toml:"-"`
	Adapter      string         `toml:"adapter"`
	Port         string         `toml:"port"`
	Baudrate     int            `toml:"baudrate"`
	FilterMode   FilterMode     `toml:"filter_mode"`
	Strategies   []SendStrategy `toml:"strategies"`
	SniffOn      string         `toml:"sniff_on"`
	SniffOff     string         `toml:"sniff_off"`
	InitCommands []string       `toml:"init_commands"`

	ExchangeTimeout        Duration `toml:"exchange_timeout"`
	StallTimeout           Duration `toml:"stall_timeout"`
	FlushWindow            Duration `toml:"flush_window"`
	PollInterval           Duration `toml:"poll_interval"`
	ResponsePendingTimeout Duration `toml:"response_pending_timeout"`

	// a zero flush window is valid, so presence is tracked separately
	flushWindowSet bool
}

type profileFile struct {
	Default string             `toml:"default"`
	Profile map[string]Profile `toml:"profile"`
}

// Profiles is a set of named profiles plus the name of the default one.
type Profiles struct {
	Default  string
	profiles map[string]Profile
}

// LoadProfiles reads a TOML profile file.
func LoadProfiles(path string) (*Profiles, error) {
	var f profileFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles %q: %w", path, err)
	}
	return newProfiles(f, md)
}

// DecodeProfiles reads TOML profiles from r.
func DecodeProfiles(r io.Reader) (*Profiles, error) {
	var f profileFile
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	return newProfiles(f, md)
}

func newProfiles(f profileFile, md toml.MetaData) (*Profiles, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown profile keys: %s", strings.Join(keys, ", "))
	}
	p := &Profiles{Default: f.Default, profiles: make(map[string]Profile, len(f.Profile))}
	for name, prof := range f.Profile {
		prof.Name = name
		prof.flushWindowSet = md.IsDefined("profile", name, "flush_window")
		p.profiles[name] = prof
	}
	if p.Default != "" {
		if _, ok := p.profiles[p.Default]; !ok {
			return nil, fmt.Errorf("default profile %q not defined", p.Default)
		}
	}
	return p, nil
}

// Get returns the named profile; an empty name selects the default.
func (p *Profiles) Get(name string) (Profile, error) {
	if name == "" {
		name = p.Default
	}
	prof, ok := p.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return prof, nil
}

func (p *Profiles) Names() []string {
	out := make([]string, 0, len(p.profiles))
	for name := range p.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Config overlays the profile on DefaultConfig.
func (p Profile) Config() Config {
	cfg := DefaultConfig()
	cfg.FilterMode = p.FilterMode
	if len(p.Strategies) > 0 {
		cfg.Strategies = append([]SendStrategy(nil), p.Strategies...)
	}
	set := func(dst *time.Duration, d Duration) {
		if d.Duration > 0 {
			*dst = d.Duration
		}
	}
	set(&cfg.ExchangeTimeout, p.ExchangeTimeout)
	set(&cfg.StallTimeout, p.StallTimeout)
	if p.flushWindowSet {
		cfg.FlushWindow = p.FlushWindow.Duration
	}
	set(&cfg.PollInterval, p.PollInterval)
	set(&cfg.ResponsePendingTimeout, p.ResponsePendingTimeout)
	return cfg
}

// AdapterConfig returns the adapter settings of the profile.
func (p Profile) AdapterConfig() *AdapterConfig {
	return &AdapterConfig{
		Port:            p.Port,
		PortBaudrate:    p.Baudrate,
		SniffOnCommand:  p.SniffOn,
		SniffOffCommand: p.SniffOff,
		InitCommands:    p.InitCommands,
	}
}

// Package config describes the platforms a transactor can run on. A Platform
// bundles the adapter kind, transport settings and transfer size limit that
// used to be chosen at compile time.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cdevice"
)

// Version is injected at build time.
var Version = "dev"

const (
	AdapterLinux   = "linux"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
)

var ErrUnknownPlatform = errors.New("unknown platform")

type Platform struct {
	Name       string `yaml:"name"`
	Adapter    string `yaml:"adapter"`
	Device     string `yaml:"device,omitempty"`
	Bus        int    `yaml:"bus,omitempty"`
	SDA        int    `yaml:"sda,omitempty"`
	SCL        int    `yaml:"scl,omitempty"`
	Frequency  uint32 `yaml:"frequency,omitempty"`
	BufferSize int    `yaml:"buffer_size"`
	Address    byte   `yaml:"address,omitempty"`
}

var profiles = map[string]Platform{
	"linux": {
		Name:       "linux",
		Adapter:    AdapterLinux,
		Device:     "/dev/i2c-1",
		BufferSize: 8192,
	},
	"mcp2221": {
		Name:       "mcp2221",
		Adapter:    AdapterMCP2221,
		Frequency:  100_000,
		BufferSize: 60,
	},
	"nanopi": {
		Name:       "nanopi",
		Adapter:    AdapterNanoPi,
		Bus:        0,
		BufferSize: 32,
	},
}

// Profile returns the built-in platform called name.
func Profile(name string) (Platform, error) {
	p, ok := profiles[name]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownPlatform, name, Profiles())
	}
	return p, nil
}

// Profiles lists built-in platform names.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load decodes a YAML platform description. When it names a built-in
// profile (or sets no name), the profile supplies the missing fields.
func Load(r io.Reader, base string) (Platform, error) {
	var p Platform
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Platform{}, fmt.Errorf("could not decode platform: %w", err)
	}
	name := p.Name
	if name == "" {
		name = base
	}
	if def, ok := profiles[name]; ok {
		p = merge(def, p)
	}
	if p.Name == "" {
		p.Name = name
	}
	if err := p.Validate(); err != nil {
		return Platform{}, err
	}
	return p, nil
}

func LoadFile(path, base string) (Platform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Platform{}, fmt.Errorf("could not open platform file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f, base)
}

func merge(def, p Platform) Platform {
	res := def
	if p.Adapter != "" {
		res.Adapter = p.Adapter
	}
	if p.Device != "" {
		res.Device = p.Device
	}
	if p.Bus != 0 {
		res.Bus = p.Bus
	}
	if p.SDA != 0 {
		res.SDA = p.SDA
	}
	if p.SCL != 0 {
		res.SCL = p.SCL
	}
	if p.Frequency != 0 {
		res.Frequency = p.Frequency
	}
	if p.BufferSize != 0 {
		res.BufferSize = p.BufferSize
	}
	if p.Address != 0 {
		res.Address = p.Address
	}
	return res
}

func (p Platform) Validate() error {
	switch p.Adapter {
	case AdapterLinux, AdapterMCP2221, AdapterNanoPi:
	default:
		return fmt.Errorf("platform %q: unsupported adapter %q", p.Name, p.Adapter)
	}
	if p.BufferSize <= 0 {
		return fmt.Errorf("platform %q: %w: %d", p.Name, i2cdevice.ErrInvalidBufferSize, p.BufferSize)
	}
	if p.Address > i2cdevice.MaxAddress {
		return fmt.Errorf("platform %q: %w: %#x", p.Name, i2cdevice.ErrInvalidAddress, p.Address)
	}
	return nil
}

// Config returns the transport configuration handed to Channel.Open.
func (p Platform) Config() i2cdevice.Config {
	return i2cdevice.Config{
		Device:    p.Device,
		Bus:       p.Bus,
		SDA:       p.SDA,
		SCL:       p.SCL,
		Frequency: p.Frequency,
	}
}

// Encode writes p as YAML.
func (p Platform) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("could not encode platform: %w", err)
	}
	return enc.Close()
}

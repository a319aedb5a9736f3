package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/knieriem/serport"
	"github.com/knieriem/serport/serenum"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/adapter"
	"github.com/mklimuk/i2cdevice/busctx"
	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
	"github.com/mklimuk/i2cdevice/config"
	"github.com/mklimuk/i2cdevice/i2c"
	"github.com/mklimuk/i2cdevice/sbc"
	"github.com/mklimuk/i2cdevice/trace"
	"github.com/mklimuk/i2cdevice/transactor"
)

// newChannel builds the channel for a platform. Replaced in tests.
var newChannel = func(p config.Platform) (i2cdevice.Channel, error) {
	switch p.Adapter {
	case config.AdapterLinux:
		return i2c.NewGenericBus(i2c.WithBufferSize(p.BufferSize)), nil
	case config.AdapterMCP2221:
		if p.BufferSize != adapter.BufferSize {
			slog.Debug("MCP2221 transfer size is fixed", "requested", p.BufferSize, "used", adapter.BufferSize)
		}
		return adapter.NewMCP2221(), nil
	case config.AdapterNanoPi:
		return sbc.NewNanoPi(sbc.WithBufferSize(p.BufferSize)), nil
	default:
		return nil, fmt.Errorf("unsupported adapter %q", p.Adapter)
	}
}

// openTracePort opens the serial diagnostic sink. Replaced in tests.
var openTracePort = func(name, ctl string) (io.WriteCloser, error) {
	portName, err := serport.Choose(name)
	if err != nil {
		return nil, fmt.Errorf("could not find trace port: %w", err)
	}
	port, err := serport.Open(portName, serport.MergeCtlCmds(serport.StdConf, ctl))
	if err != nil {
		return nil, fmt.Errorf("could not open trace port %s: %w", portName, err)
	}
	slog.Debug("trace port open", "port", portName, "info", serenum.Lookup(portName).Format(nil))
	return port, nil
}

type session struct {
	ctx      context.Context
	platform config.Platform
	channel  i2cdevice.Channel
	tr       *transactor.Transactor
	stats    *trace.Stats
	port     io.Closer
}

func loadPlatform(c *cli.Context) (config.Platform, error) {
	base := c.String("platform")
	var p config.Platform
	var err error
	if path := c.String("config"); path != "" {
		p, err = config.LoadFile(path, base)
	} else {
		p, err = config.Profile(base)
	}
	if err != nil {
		return p, err
	}
	if c.IsSet("device") {
		p.Device = c.String("device")
	}
	if c.IsSet("bus") {
		p.Bus = c.Int("bus")
	}
	if c.IsSet("freq") {
		p.Frequency = uint32(c.Uint("freq"))
	}
	if c.IsSet("addr") {
		addr, err := parseByte(c.String("addr"))
		if err != nil {
			return p, fmt.Errorf("invalid address: %w", err)
		}
		p.Address = addr
	}
	return p, p.Validate()
}

// openSession resolves the platform and binds a transactor to its address.
// The channel is opened, with presence detection when detect is set.
func openSession(c *cli.Context, detect bool) (*session, error) {
	p, err := loadPlatform(c)
	if err != nil {
		return nil, console.Exit(console.CodeUsage, "platform error: %s", console.Red(err))
	}
	verbose := c.Bool("verbose")
	s := &session{
		ctx:      busctx.SetVerbose(c.Context, verbose),
		platform: p,
		stats:    &trace.Stats{},
	}
	tracers := []i2cdevice.Tracer{s.stats}
	if verbose {
		tracers = append(tracers, trace.NewLogger(slog.Default()))
	}
	if name := c.String("trace-port"); name != "" {
		port, err := openTracePort(name, c.String("trace-port-ctl"))
		if err != nil {
			return nil, console.Exit(console.CodeFailure, "%s", console.Red(err))
		}
		s.port = port
		tracers = append(tracers, trace.NewWriter(port))
	}
	s.channel, err = newChannel(p)
	if err != nil {
		s.closePort()
		return nil, console.Exit(console.CodeUsage, "channel error: %s", console.Red(err))
	}
	s.tr, err = transactor.New(s.channel, p.Address,
		transactor.WithConfig(p.Config()),
		transactor.WithTracer(trace.Multi(tracers...)),
		transactor.WithReport(console.Writer()),
	)
	if err != nil {
		s.closePort()
		return nil, console.ExitErr("could not create transactor", err)
	}
	if err := s.tr.Begin(s.ctx, detect, p.Config()); err != nil {
		s.close()
		return nil, console.ExitErr(fmt.Sprintf("could not initialize %s bus", p.Name), err)
	}
	return s, nil
}

func (s *session) close() {
	if err := s.tr.End(s.ctx); err != nil {
		slog.Warn("could not close bus", "error", err)
	}
	s.closePort()
	if busctx.IsVerbose(s.ctx) {
		slog.Debug("transaction summary",
			"all", s.stats.Num.All,
			"failed", s.stats.Failed(),
			"written", s.stats.Bytes.Written,
			"read", s.stats.Bytes.Read,
		)
	}
}

func (s *session) closePort() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		slog.Warn("could not close trace port", "error", err)
	}
	s.port = nil
}

// parseByte accepts 0x prefixed hex, 0b prefixed binary and decimal values.
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

// parseBytes parses every argument, each either a 0x or 0b prefixed value or
// a run of hex digits such as a0ff.
func parseBytes(args []string) ([]byte, error) {
	var res []byte
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			lower := strings.ToLower(field)
			if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0b") {
				v, err := parseByte(field)
				if err != nil {
					return nil, fmt.Errorf("invalid byte %q: %w", field, err)
				}
				res = append(res, v)
				continue
			}
			run, err := hex.DecodeString(field)
			if err != nil {
				return nil, fmt.Errorf("invalid byte run %q: %w", field, err)
			}
			res = append(res, run...)
		}
	}
	return res, nil
}

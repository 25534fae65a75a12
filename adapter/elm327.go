package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/elmuds"
	"github.com/roffe/elmuds/internal/syncutil"
	"github.com/roffe/elmuds/pkg/elmtext"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

func init() {
	if err := elmuds.RegisterAdapter(&elmuds.AdapterInfo{
		Name:               "ELM327",
		Description:        "ELM327 compatible text adapter",
		RequiresSerialPort: true,
		New:                NewELM327,
	}); err != nil {
		panic(err)
	}
}

const (
	elm327DefaultBaudrate = 38400
	elm327CommandTimeout  = 2 * time.Second
	elm327ResetTimeout    = 2 * time.Second
)

var elm327InitCommands = []string{
	"ATE0",   // echo off
	"ATL0",   // linefeeds off
	"ATS1",   // spaces on
	"ATH1",   // headers on
	"ATSP6",  // ISO 15765-4 CAN 11bit 500kbit
	"ATCAF1", // automatic formatting on
}

var ErrNoPrompt = errors.New("timeout waiting for '>' prompt")

// ELM327 drives an ELM327 compatible adapter over a serial port.
//
// Commands are written one at a time and complete on the '>' prompt. Lines
// printed while no command is outstanding, such as monitored frames, are
// queued for ReceiveLine.
type ELM327 struct {
	*elmuds.BaseAdapter
	cfg *elmuds.AdapterConfig

	openPort func() (serial.Port, error)
	port     serial.Port
	version  string

	cmdMu syncutil.Mutex

	// guarded by lineMu, shared with recvManager
	lineMu     syncutil.Mutex
	waiting    bool
	reply      []string
	monitoring bool

	promptCh chan string
	closed   atomic.Bool

	header         uint32
	headerSet      bool
	filter, mask   uint32
	filterSet      bool
	sniffOn        string
	sniffOff       string
	commandMonitor bool
	commandTimeout time.Duration
}

func NewELM327(cfg *elmuds.AdapterConfig) (elmuds.Adapter, error) {
	return newELM327("ELM327", cfg, nil), nil
}

func newELM327(name string, cfg *elmuds.AdapterConfig, port serial.Port) *ELM327 {
	if cfg == nil {
		cfg = &elmuds.AdapterConfig{}
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = elm327DefaultBaudrate
	}
	elm := &ELM327{
		BaseAdapter:    elmuds.NewBaseAdapter(name, cfg),
		cfg:            cfg,
		promptCh:       make(chan string, 1),
		sniffOn:        "ATMA",
		commandTimeout: elm327CommandTimeout,
	}
	if cfg.SniffOnCommand != "" {
		elm.sniffOn = cfg.SniffOnCommand
	}
	// co-processor firmware keeps accepting commands while monitoring and
	// has an explicit command to stop
	if cfg.SniffOffCommand != "" {
		elm.sniffOff = cfg.SniffOffCommand
		elm.commandMonitor = true
	}
	if port != nil {
		elm.openPort = func() (serial.Port, error) { return port, nil }
	} else {
		elm.openPort = elm.openSerial
	}
	return elm
}

func (elm *ELM327) openSerial() (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: elm.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(elm.cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %v", elm.cfg.Port, err)
	}
	return p, nil
}

// Version returns the identification printed on reset.
func (elm *ELM327) Version() string {
	return elm.version
}

func (elm *ELM327) Open(ctx context.Context) error {
	p, err := elm.openPort()
	if err != nil {
		return err
	}
	if err := p.SetReadTimeout(5 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	elm.port = p
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	err = retry.Do(func() error {
		return elm.reset(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.OnRetry(func(n uint, err error) {
			elm.cfg.OnError(fmt.Errorf("retry #%d: %w", n, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		p.Close()
		return err
	}
	if elm.cfg.Debug {
		elm.cfg.OnMessage("adapter: " + elm.version)
	}

	go elm.recvManager(ctx)

	initCmds := elm327InitCommands
	if len(elm.cfg.InitCommands) > 0 {
		initCmds = elm.cfg.InitCommands
	}
	for _, c := range initCmds {
		reply, err := elm.command(c)
		if err == nil {
			err = elmtext.CheckError(reply)
		}
		if err != nil {
			elm.Close()
			return fmt.Errorf("init %s: %w", c, err)
		}
	}
	return nil
}

// reset writes ATZ while reading the banner concurrently. The receive loop
// is not running yet so the port is read directly.
func (elm *ELM327) reset(ctx context.Context) error {
	elm.port.ResetInputBuffer()
	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		v, err := elm.readBanner(gctx, elm327ResetTimeout)
		if err != nil {
			return err
		}
		elm.version = v
		return nil
	})
	errg.Go(func() error {
		if _, err := elm.port.Write([]byte("ATZ\r")); err != nil {
			return fmt.Errorf("failed to write ATZ: %w", err)
		}
		return nil
	})
	return errg.Wait()
}

func (elm *ELM327) readBanner(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	readbuff := make([]byte, 32)
	buff := bytes.NewBuffer(nil)
	var version string
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		n, err := elm.port.Read(readbuff)
		if err != nil {
			return "", fmt.Errorf("failed to read com port: %w", err)
		}
		for _, b := range readbuff[:n] {
			switch b {
			case '\r', '\n':
				if line := strings.TrimSpace(buff.String()); strings.HasPrefix(line, "ELM327") {
					version = line
				}
				buff.Reset()
			case '>':
				if line := strings.TrimSpace(buff.String()); strings.HasPrefix(line, "ELM327") {
					version = line
				}
				if version != "" {
					return version, nil
				}
				buff.Reset()
			default:
				buff.WriteByte(b)
			}
		}
	}
	return "", errors.New("no ELM327 banner after reset")
}

// command writes cmd and returns the text printed before the prompt.
func (elm *ELM327) command(cmd string) (string, error) {
	elm.cmdMu.Lock()
	defer elm.cmdMu.Unlock()
	return elm.commandLocked(cmd)
}

func (elm *ELM327) commandLocked(cmd string) (string, error) {
	if elm.closed.Load() {
		return "", elmuds.ErrAdapterClosed
	}
	if elm.isMonitoring() && !elm.commandMonitor {
		if err := elm.stopMonitor(); err != nil {
			return "", err
		}
		defer elm.startMonitor()
	}
	return elm.roundTrip(cmd+"\r", cmd)
}

// roundTrip writes out and waits for the prompt.
func (elm *ELM327) roundTrip(out, name string) (string, error) {
	elm.lineMu.Lock()
	elm.waiting = true
	elm.reply = elm.reply[:0]
	elm.lineMu.Unlock()
	select {
	case <-elm.promptCh:
	default:
	}

	if elm.cfg.Debug {
		elm.cfg.OnMessage("<o> " + name)
	}
	if _, err := elm.port.Write([]byte(out)); err != nil {
		elm.cancelWait()
		return "", fmt.Errorf("failed to write %q: %w", name, err)
	}

	select {
	case reply := <-elm.promptCh:
		if elm.cfg.Debug {
			elm.cfg.OnMessage("<i> " + strings.ReplaceAll(reply, "\r", " | "))
		}
		return reply, nil
	case <-time.After(elm.commandTimeout):
		elm.cancelWait()
		return "", fmt.Errorf("%s: %w", name, ErrNoPrompt)
	case <-elm.Done():
		elm.cancelWait()
		return "", elmuds.ErrAdapterClosed
	}
}

func (elm *ELM327) cancelWait() {
	elm.lineMu.Lock()
	elm.waiting = false
	elm.reply = elm.reply[:0]
	elm.lineMu.Unlock()
}

func (elm *ELM327) isMonitoring() bool {
	elm.lineMu.Lock()
	defer elm.lineMu.Unlock()
	return elm.monitoring
}

func (elm *ELM327) setMonitoring(v bool) {
	elm.lineMu.Lock()
	elm.monitoring = v
	elm.lineMu.Unlock()
}

func (elm *ELM327) startMonitor() error {
	if elm.commandMonitor {
		reply, err := elm.roundTrip(elm.sniffOn+"\r", elm.sniffOn)
		if err == nil {
			err = elmtext.CheckError(reply)
		}
		if err != nil {
			return err
		}
		elm.setMonitoring(true)
		return nil
	}
	// ATMA prints frames until any character is received, no prompt
	if elm.cfg.Debug {
		elm.cfg.OnMessage("<o> " + elm.sniffOn)
	}
	elm.setMonitoring(true)
	if _, err := elm.port.Write([]byte(elm.sniffOn + "\r")); err != nil {
		elm.setMonitoring(false)
		return fmt.Errorf("failed to write %q: %w", elm.sniffOn, err)
	}
	return nil
}

func (elm *ELM327) stopMonitor() error {
	elm.setMonitoring(false)
	var (
		reply string
		err   error
	)
	if elm.commandMonitor {
		reply, err = elm.roundTrip(elm.sniffOff+"\r", elm.sniffOff)
	} else {
		reply, err = elm.roundTrip("\r", "stop monitor")
	}
	if err != nil {
		return err
	}
	// frames that arrived while stopping still belong to the caller
	for _, line := range elmtext.Lines(reply) {
		if !elmtext.IsStatusLine(line) {
			elm.PushLine(line)
		}
	}
	return nil
}

func (elm *ELM327) SetTxIdentifier(id uint32) error {
	elm.cmdMu.Lock()
	defer elm.cmdMu.Unlock()
	if elm.headerSet && elm.header == id {
		return nil
	}
	if err := elm.expectOK(fmt.Sprintf("ATSH%03X", id)); err != nil {
		return err
	}
	elm.header, elm.headerSet = id, true
	return nil
}

func (elm *ELM327) SetRxFilter(id, mask uint32) error {
	elm.cmdMu.Lock()
	defer elm.cmdMu.Unlock()
	if elm.filterSet && elm.filter == id && elm.mask == mask {
		return nil
	}
	if err := elm.expectOK(fmt.Sprintf("ATCF%03X", id)); err != nil {
		return err
	}
	if err := elm.expectOK(fmt.Sprintf("ATCM%03X", mask)); err != nil {
		return err
	}
	elm.filter, elm.mask, elm.filterSet = id, mask, true
	return nil
}

func (elm *ELM327) expectOK(cmd string) error {
	reply, err := elm.commandLocked(cmd)
	if err != nil {
		return err
	}
	return elmtext.CheckError(reply)
}

func (elm *ELM327) SetSniffMode(enabled bool) error {
	elm.cmdMu.Lock()
	defer elm.cmdMu.Unlock()
	if enabled == elm.isMonitoring() {
		return nil
	}
	if enabled {
		return elm.startMonitor()
	}
	return elm.stopMonitor()
}

// SendFrame writes data as a hex command. With automatic formatting on the
// adapter adds the PCI itself.
func (elm *ELM327) SendFrame(data []byte) (string, error) {
	var sb strings.Builder
	for _, b := range data {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return elm.command(sb.String())
}

func (elm *ELM327) recvManager(ctx context.Context) {
	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-elm.Done():
			return
		default:
		}
		n, err := elm.port.Read(readBuffer)
		if err != nil {
			if !elm.closed.Load() {
				elm.cfg.OnError(fmt.Errorf("failed to read com port: %w", err))
				elm.Error(err)
			}
			return
		}
		for _, b := range readBuffer[:n] {
			switch b {
			case '\r', '\n':
				if buff.Len() > 0 {
					elm.handleLine(buff.String())
					buff.Reset()
				}
			case '>':
				if buff.Len() > 0 {
					elm.handleLine(buff.String())
					buff.Reset()
				}
				elm.handlePrompt()
			case 0x00:
			default:
				buff.WriteByte(b)
			}
		}
	}
}

func (elm *ELM327) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	elm.lineMu.Lock()
	if elm.waiting {
		elm.reply = append(elm.reply, line)
		elm.lineMu.Unlock()
		return
	}
	elm.lineMu.Unlock()

	if elm.cfg.Debug {
		elm.cfg.OnMessage("<i> " + line)
	}
	if err := elmtext.CheckError(line); err != nil {
		elm.Warn(line)
		return
	}
	if elmtext.IsStatusLine(line) {
		elm.Debug(line)
		return
	}
	elm.PushLine(line)
}

func (elm *ELM327) handlePrompt() {
	elm.lineMu.Lock()
	defer elm.lineMu.Unlock()
	if !elm.waiting {
		return
	}
	elm.waiting = false
	reply := strings.Join(elm.reply, "\r")
	elm.reply = elm.reply[:0]
	select {
	case elm.promptCh <- reply:
	default:
	}
}

func (elm *ELM327) Close() error {
	if !elm.closed.CompareAndSwap(false, true) {
		return nil
	}
	elm.BaseAdapter.Close()
	if elm.port == nil {
		return nil
	}
	if elm.isMonitoring() && !elm.commandMonitor {
		elm.port.Write([]byte("\r"))
	}
	elm.port.ResetInputBuffer()
	return elm.port.Close()
}

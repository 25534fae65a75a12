package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/roffe/elmuds"
	"github.com/roffe/elmuds/adapter"
	"github.com/roffe/elmuds/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "udstool",
	Short:        "UDS requests over ELM327 style adapters",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort         = "port"
	flagBaudrate     = "baudrate"
	flagDebug        = "debug"
	flagAdapter      = "adapter"
	flagProfile      = "profile"
	flagProfileFile  = "profiles"
	flagFrames       = "frames"
	defaultProfiles  = "udstool.toml"
	defaultCapacity  = 4095
	defaultScanLimit = 512
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "", "what adapter to use, empty = select")
	pf.StringP(flagPort, "p", "", "com-port")
	pf.IntP(flagBaudrate, "b", 38400, "baudrate")
	pf.StringP(flagProfile, "P", "", "profile name, empty = default profile")
	pf.String(flagProfileFile, defaultProfiles, "profile file")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.BoolP(flagFrames, "f", false, "print CAN frames")
}

// session is an opened adapter with a client on top.
type session struct {
	adapter elmuds.Adapter
	client  *elmuds.Client
	log     zerolog.Logger
}

func (s *session) Close() {
	if err := s.adapter.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close adapter")
	}
}

func loadProfile(cmd *cobra.Command) (elmuds.Profile, error) {
	pf := cmd.Flags()
	path, _ := pf.GetString(flagProfileFile)
	name, _ := pf.GetString(flagProfile)
	if _, err := os.Stat(path); err != nil {
		if name != "" || pf.Changed(flagProfileFile) {
			return elmuds.Profile{}, err
		}
		return elmuds.Profile{}, nil
	}
	profiles, err := elmuds.LoadProfiles(path)
	if err != nil {
		return elmuds.Profile{}, err
	}
	if name == "" && profiles.Default == "" {
		return elmuds.Profile{}, nil
	}
	return profiles.Get(name)
}

func selectAdapter() (string, error) {
	prompt := promptui.Select{
		Label: "Select adapter",
		Items: elmuds.ListAdapterNames(),
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return result, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	pf := cmd.Flags()
	debug, _ := pf.GetBool(flagDebug)
	logger := logging.Init("udstool", debug)

	prof, err := loadProfile(cmd)
	if err != nil {
		return nil, err
	}
	cfg := prof.Config()

	adapterName, _ := pf.GetString(flagAdapter)
	if adapterName == "" {
		adapterName = prof.Adapter
	}
	if adapterName == "" {
		if adapterName, err = selectAdapter(); err != nil {
			return nil, err
		}
	}

	acfg := prof.AdapterConfig()
	if pf.Changed(flagPort) || acfg.Port == "" {
		acfg.Port, _ = pf.GetString(flagPort)
	}
	if pf.Changed(flagBaudrate) || acfg.PortBaudrate == 0 {
		acfg.PortBaudrate, _ = pf.GetInt(flagBaudrate)
	}
	if err := checkPort(adapterName, acfg.Port, logger); err != nil {
		return nil, err
	}
	acfg.Debug = debug
	acfg.OnMessage = logging.MessageFunc(logger)
	acfg.OnError = logging.ErrorFunc(logger)

	a, err := elmuds.NewAdapter(adapterName, acfg)
	if err != nil {
		return nil, err
	}
	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-a.Event():
				if !ok {
					return
				}
				logger.Info().Str("adapter", a.Name()).Msg(e.String())
			}
		}
	}()

	opts := []elmuds.Option{elmuds.WithConfig(cfg), elmuds.WithLogger(logger)}
	if frames, _ := pf.GetBool(flagFrames); frames {
		opts = append(opts, elmuds.WithFrameHook(func(f *elmuds.CANFrame) {
			fmt.Fprintln(os.Stderr, f.ColorString())
		}))
	}
	c, err := elmuds.New(a, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Debug().Str("adapter", a.Name()).Str("profile", prof.Name).Msg("session open")
	return &session{adapter: a, client: c, log: logger}, nil
}

func checkPort(adapterName, port string, logger zerolog.Logger) error {
	for _, info := range elmuds.ListAdapters() {
		if info.Name != adapterName || !info.RequiresSerialPort {
			continue
		}
		if port == "" {
			return fmt.Errorf("adapter %s needs --%s", adapterName, flagPort)
		}
		p, err := adapter.FindPort(port)
		if err != nil {
			return err
		}
		logger.Debug().Str("port", p.String()).Msg("serial port")
	}
	return nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" {
		return 0, errors.New("empty number")
	}
	return strconv.ParseUint(s, 16, 32)
}

func parseTarget(s string) (uint32, error) {
	v, err := parseHex(s)
	if err != nil {
		return 0, fmt.Errorf("invalid target %q: %w", s, err)
	}
	if v > elmuds.MaxStandardID {
		return 0, fmt.Errorf("invalid target %q: not an 11-bit identifier", s)
	}
	return uint32(v), nil
}

package adapter

import (
	"github.com/roffe/elmuds"
)

const stnDefaultBaudrate = 115200

func init() {
	for _, name := range []string{"OBDLink SX", "OBDLink MX"} {
		name := name
		if err := elmuds.RegisterAdapter(&elmuds.AdapterInfo{
			Name:               name,
			Description:        "STN based ELM327 compatible adapter",
			RequiresSerialPort: true,
			New: func(cfg *elmuds.AdapterConfig) (elmuds.Adapter, error) {
				return NewSTN(name, cfg), nil
			},
		}); err != nil {
			panic(err)
		}
	}
}

// NewSTN returns an ELM327 driver set up for STN firmware: faster default
// baudrate and STMA for monitoring.
func NewSTN(name string, cfg *elmuds.AdapterConfig) *ELM327 {
	if cfg == nil {
		cfg = &elmuds.AdapterConfig{}
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = stnDefaultBaudrate
	}
	if cfg.SniffOnCommand == "" {
		cfg.SniffOnCommand = "STMA"
	}
	return newELM327(name, cfg, nil)
}

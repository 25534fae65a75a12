package elmuds

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Adapter is a Transport backed by a device that has to be opened first.
type Adapter interface {
	Transport
	Name() string
	Open(context.Context) error
	Close() error
	Event() <-chan Event
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v ", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int
	// InitCommands replace the adapter's default initialization sequence.
	InitCommands []string
	// SniffOnCommand and SniffOffCommand override the monitor commands,
	// e.g. ATM1/ATM0 on co-processor firmware.
	SniffOnCommand  string
	SniffOffCommand string
	OnMessage       func(string)
	OnError         func(error)
}

var adapterMap = make(map[string]*AdapterInfo)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			_, file, no, ok := runtime.Caller(1)
			if ok {
				fmt.Printf("%s#%d %v\n", filepath.Base(file), no, msg)
			} else {
				log.Println(msg)
			}
		}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(err error) {
			log.Println(err)
		}
	}
	if adapter, found := adapterMap[adapterName]; found {
		return adapter.New(cfg)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAdapter, adapterName)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	var out []string
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

package eio

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const (
	NetworkTCP  = "tcp" //contains both ipv4 and ipv6
	NetworkTCP4 = "tcp4"
	NetworkTCP6 = "tcp6"
	NetworkUNIX = "unix"
)

// Address is one listen endpoint. Name tags every connection accepted
// through it.
type Address struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

type Config struct {
	ListenAddrs []Address `yaml:"listeners"`
	// PollerNum is the number of connection event loops. Defaults to
	// runtime.NumCPU().
	PollerNum int `yaml:"pollers"`
	// ThreadLock pins each event loop to an OS thread.
	ThreadLock bool `yaml:"thread_lock"`
	// AccessLogPath, when set, is opened in append mode and used as the
	// access-log sink unless AccessLog is provided directly.
	AccessLogPath string `yaml:"access_log"`

	Logger    *slog.Logger `yaml:"-"`
	AccessLog io.Writer    `yaml:"-"`
	Handler   Handler      `yaml:"-"`
}

// LoadConfig reads a yaml config file. Runtime-only fields (Logger,
// AccessLog, Handler) have to be set by the caller afterwards.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

//go:norace
func (a Address) normalize(isIpv6 bool) (domain, sotype, proto int) {
	domain = unix.AF_INET6
	sotype = unix.SOCK_STREAM
	proto = unix.IPPROTO_IP

	switch a.Network {
	case NetworkTCP, NetworkTCP4, NetworkTCP6:
		if a.Network == NetworkTCP4 || !isIpv6 {
			domain = unix.AF_INET
		}
		proto = unix.IPPROTO_TCP
	case NetworkUNIX:
		domain = unix.AF_UNIX
	}
	return domain, sotype | unix.SOCK_CLOEXEC | unix.SOCK_NONBLOCK, proto
}

//go:norace
func (a Address) isIpv6Only() bool {
	return a.Network == NetworkTCP6
}

//go:norace
func (a Address) HostPort() (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(a.Address)
	if err != nil {
		return
	}
	port, err = strconv.Atoi(portStr)
	return host, port, err
}

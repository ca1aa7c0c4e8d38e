// Package config loads the node's YAML configuration file (spec.md
// §6 Configuration), mirroring the YAML-first config style of
// PeernetOfficial-core and syncthing-syncthing in the retrieval pack.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jython234/osp/oerrors"
)

// DefaultBindAddr is used when a config file omits bind_addr.
const DefaultBindAddr = "127.0.0.1:57401"

// Config is the node's static configuration.
type Config struct {
	// BindAddr is the local "host:port" the node listens on.
	BindAddr string `yaml:"bind_addr"`
	// Hostname is this node's own identity, announced in Identify and
	// resolved by peers via a _osp.<Hostname> TXT record.
	Hostname string `yaml:"hostname"`
	// PrivateKeyPath points at a PEM-encoded RSA private key file.
	// Reading it is the one piece of file I/O spec.md keeps external
	// to the core; cmd/ospnode performs the read.
	PrivateKeyPath string `yaml:"private_key_path"`
}

// ErrMissingHostname is returned by Load when hostname is absent.
var ErrMissingHostname = oerrors.New(oerrors.KindProtocol, "config: hostname is required")

// ErrMissingPrivateKeyPath is returned by Load when private_key_path
// is absent.
var ErrMissingPrivateKeyPath = oerrors.New(oerrors.KindProtocol, "config: private_key_path is required")

// Load reads and parses the YAML config file at path, applying
// DefaultBindAddr when bind_addr is omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "read config file")
	}

	cfg := &Config{BindAddr: DefaultBindAddr}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, oerrors.Wrap(oerrors.KindProtocol, err, "parse config yaml")
	}

	if cfg.BindAddr == "" {
		cfg.BindAddr = DefaultBindAddr
	}
	if cfg.Hostname == "" {
		return nil, ErrMissingHostname
	}
	if cfg.PrivateKeyPath == "" {
		return nil, ErrMissingPrivateKeyPath
	}
	return cfg, nil
}

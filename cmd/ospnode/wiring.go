package main

import (
	"crypto/rsa"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jython234/osp/config"
	"github.com/jython234/osp/cryptoutil"
	"github.com/jython234/osp/metrics"
	"github.com/jython234/osp/node"
)

// loadNode reads configPath and the PEM private key it names, then
// returns an initialized node.Node ready to Listen/Broadcast/SubscribeTo.
func loadNode() (*node.Node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	privKey, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("hostname", cfg.Hostname)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	init := node.NewNode(node.Config{BindAddr: cfg.BindAddr, Hostname: cfg.Hostname}, nil, nil, collector, log)
	return init.Init(privKey)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return cryptoutil.ParsePrivateKey(data)
}

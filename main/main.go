// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/ava-labs/drivevm/drivevm"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
)

const basePath = "/ext/drive"

func main() {
	v, err := getViper()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	if v.GetBool(versionKey) {
		fmt.Printf("%s@%s\n", drivevm.Name, drivevm.Version)
		os.Exit(0)
	}
	if err := setupLogging(v); err != nil {
		fmt.Printf("couldn't set up logging: %s\n", err)
		os.Exit(1)
	}
	if err := run(v); err != nil {
		log.Crit("drivevm stopped", "err", err)
		os.Exit(1)
	}
}

func loadConfig(v *viper.Viper) (drivevm.Config, error) {
	var b []byte
	if path := v.GetString(configFileKey); path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return drivevm.Config{}, err
		}
	}
	config, err := drivevm.ParseConfig(v.GetString(networkKey), b)
	if err != nil {
		return drivevm.Config{}, err
	}
	if size := v.GetInt(contractCacheSizeKey); size > 0 {
		config.ContractCacheSize = size
	}
	return config, nil
}

func loadGenesis(path string) (*drivevm.InitChainRequest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	req := new(drivevm.InitChainRequest)
	if err := json.Unmarshal(b, req); err != nil {
		return nil, fmt.Errorf("failed to parse genesis %s: %w", path, err)
	}
	return req, nil
}

func run(v *viper.Viper) error {
	config, err := loadConfig(v)
	if err != nil {
		return err
	}

	dataDir := v.GetString(dataDirKey)
	persister, err := storage.NewLevelDBPersister(filepath.Join(dataDir, "state"))
	if err != nil {
		return err
	}
	store, err := storage.New(persister)
	if err != nil {
		return err
	}
	results, err := resultlog.Open(filepath.Join(dataDir, "results"), config.ResultCacheSize)
	if err != nil {
		_ = store.Close()
		return err
	}

	registry := prometheus.NewRegistry()
	vm, err := drivevm.New(config, store, results, registry)
	if err != nil {
		_ = results.Close()
		_ = store.Close()
		return err
	}
	defer func() {
		if err := vm.Shutdown(); err != nil {
			log.Error("failed to shut down", "err", err)
		}
	}()

	if path := v.GetString(genesisFileKey); path != "" && !vm.Initialized() {
		req, err := loadGenesis(path)
		if err != nil {
			return err
		}
		if _, err := vm.InitChain(req); err != nil {
			return err
		}
	}

	handlers, err := vm.CreateHandlers()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	for endpoint, h := range handlers {
		mux.Handle(basePath+endpoint, h)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := net.JoinHostPort(v.GetString(httpHostKey), strconv.Itoa(v.GetInt(httpPortKey)))
	server := &http.Server{Addr: addr, Handler: mux}
	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()
	log.Info("serving", "addr", addr, "network", config.Network, "chainId", config.ChainID)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		log.Info("shutting down", "signal", sig)
		return server.Close()
	case err := <-errs:
		return err
	}
}

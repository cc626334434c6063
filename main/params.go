// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/inconshreveable/log15"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	versionKey           = "version"
	networkKey           = "network"
	dataDirKey           = "data-dir"
	httpHostKey          = "http-host"
	httpPortKey          = "http-port"
	logLevelKey          = "log-level"
	logFormatKey         = "log-format"
	contractCacheSizeKey = "contract-cache-size"
	genesisFileKey       = "genesis-file"
	configFileKey        = "config-file"

	envPrefix = "DRIVEVM"
)

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("drivevm", flag.ContinueOnError)

	fs.Bool(versionKey, false, "If true, prints the version and quits")
	fs.String(networkKey, "devnet", "Network the chain runs on: mainnet, testnet or devnet")
	fs.String(dataDirKey, "drivevm-data", "Directory of the state and result databases")
	fs.String(httpHostKey, "127.0.0.1", "Address the API listens on")
	fs.Uint(httpPortKey, 9650, "Port the API listens on")
	fs.String(logLevelKey, "info", "Log level: crit, error, warn, info, debug or trace")
	fs.String(logFormatKey, "terminal", "Log format: terminal, logfmt or json")
	fs.Int(contractCacheSizeKey, 0, "Number of decoded contracts to cache, the network default when zero")
	fs.String(genesisFileKey, "", "JSON genesis used when the chain is not initialized")
	fs.String(configFileKey, "", "JSON file overriding the VM config of the network")

	return fs
}

// getViper returns the flags, overridden by DRIVEVM_ environment variables.
func getViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}
	return v, nil
}

// setupLogging installs the root log15 handler.
func setupLogging(v *viper.Viper) error {
	lvl, err := log.LvlFromString(v.GetString(logLevelKey))
	if err != nil {
		return err
	}
	var format log.Format
	switch v.GetString(logFormatKey) {
	case "terminal":
		format = log.TerminalFormat()
	case "logfmt":
		format = log.LogfmtFormat()
	case "json":
		format = log.JsonFormat()
	default:
		return fmt.Errorf("unknown log format %q", v.GetString(logFormatKey))
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, format)))
	return nil
}

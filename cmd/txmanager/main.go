//  Copyright (C) 2021-2023 Chronicle Labs, Inc.
//
//  This program is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Affero General Public License as
//  published by the Free Software Foundation, either version 3 of the
//  License, or (at your option) any later version.
//
//  This program is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Affero General Public License for more details.
//
//  You should have received a copy of the GNU Affero General Public License
//  along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/defiweb/go-eth/rpc/transport"
	"github.com/defiweb/go-eth/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chronicleprotocol/txmanager/core"
	"github.com/chronicleprotocol/txmanager/pkg/jsonrpc"
)

type options struct {
	RpcURL          string        `env:"TXMANAGER_RPC_URL"`
	Transport       string        `env:"TXMANAGER_TRANSPORT" envDefault:"http"`
	SecretKey       string        `env:"TXMANAGER_SECRET_KEY"`
	Key             string        `env:"TXMANAGER_KEYSTORE"`
	Password        string        `env:"TXMANAGER_PASSWORD"`
	PasswordFile    string        `env:"TXMANAGER_PASSWORD_FILE"`
	From            string        `env:"TXMANAGER_FROM"`
	ChainID         uint64        `env:"TXMANAGER_CHAIN_ID"`
	PollingInterval time.Duration `env:"TXMANAGER_POLLING_INTERVAL" envDefault:"15s"`
	Attempts        int           `env:"TXMANAGER_ATTEMPTS" envDefault:"40"`
	LogLevel        string        `env:"TXMANAGER_LOG_LEVEL" envDefault:"info"`
	MetricsAddr     string        `env:"TXMANAGER_METRICS_ADDR"`
}

// loadOptions reads flag defaults from the environment, after loading a .env
// file if there is one.
func loadOptions() (options, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("No .env file loaded: %v", err)
	}
	var opts options
	if err := env.Parse(&opts); err != nil {
		return options{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return opts, nil
}

// Checks and return credentials based on given options
func (o *options) getCredentials() (*core.Credentials, error) {
	if o.SecretKey != "" {
		return core.CredentialsFromHex(o.SecretKey)
	}

	if o.Key == "" {
		return nil, fmt.Errorf("please provide key using `--keystore` or `--secret-key` flag")
	}

	stat, err := os.Stat(o.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore file: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("keystore file is a directory")
	}

	if o.Password == "" && o.PasswordFile == "" {
		return nil, fmt.Errorf("please provide password using `--password` or `--password-file` flag")
	}
	password := o.Password
	if password == "" {
		p, err := os.ReadFile(o.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read password file: %w", err)
		}
		password = strings.TrimSpace(string(p))
	}
	return core.CredentialsFromKeystore(o.Key, password)
}

// dial opens the configured transport. The returned function releases it.
func (o *options) dial(ctx context.Context) (jsonrpc.Transport, func(), error) {
	if o.RpcURL == "" {
		return nil, nil, fmt.Errorf("please provide RPC URL using `--rpc-url` flag")
	}
	switch o.Transport {
	case "http":
		t, err := transport.NewHTTP(transport.HTTPOptions{URL: o.RpcURL})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create transport: %w", err)
		}
		return t, func() {}, nil
	case "http-batch":
		t, err := jsonrpc.NewHTTP(jsonrpc.HTTPOptions{URL: o.RpcURL})
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	case "ws":
		t, err := jsonrpc.DialWebSocket(ctx, jsonrpc.WebSocketOptions{URL: o.RpcURL})
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q, expected http, http-batch or ws", o.Transport)
	}
}

// gateway dials the node and returns an RPC gateway on top of the transport.
func (o *options) gateway(ctx context.Context) (*core.RpcGateway, func(), error) {
	t, closeTransport, err := o.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := core.NewRpcGateway(t)
	if err != nil {
		closeTransport()
		return nil, nil, err
	}
	return client, closeTransport, nil
}

// chainID returns the configured chain ID, asking the node when none is set.
func (o *options) chainID(ctx context.Context, client core.TxClient) (uint64, error) {
	if o.ChainID != 0 {
		return o.ChainID, nil
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain id: %w", err)
	}
	logger.Debugf("Using chain id %d reported by the node", id)
	return id, nil
}

func (o *options) managerOptions(extra ...core.ManagerOption) []core.ManagerOption {
	return append([]core.ManagerOption{
		core.WithPollingInterval(o.PollingInterval),
		core.WithAttempts(o.Attempts),
	}, extra...)
}

// from returns the --from address, or the zero address when it is not set.
func (o *options) from() (types.Address, error) {
	if o.From == "" {
		return types.ZeroAddress, nil
	}
	a, err := types.AddressFromHex(o.From)
	if err != nil {
		return types.Address{}, fmt.Errorf("failed to parse from address %s: %w", o.From, err)
	}
	return a, nil
}

func serveMetrics(addr string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(core.Collectors()...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		logger.Infof("Serving metrics on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
}

func main() {
	opts, err := loadOptions()
	if err != nil {
		logger.Fatalf("Failed to load options: %v", err)
	}

	cmd := &cobra.Command{
		Use:   "txmanager",
		Short: "Send Ethereum transactions and track their receipts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(opts.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
			}
			logger.SetLevel(level)
			if opts.MetricsAddr != "" {
				serveMetrics(opts.MetricsAddr)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.RpcURL, "rpc-url", opts.RpcURL, "Node RPC URL, normally starts with https://**** or wss://****")
	cmd.PersistentFlags().StringVar(&opts.Transport, "transport", opts.Transport, "RPC transport: http, http-batch (batched receipt polling) or ws")
	cmd.PersistentFlags().StringVar(&opts.SecretKey, "secret-key", opts.SecretKey, "Private key in format `0x******` or `*******`. If provided, no need to use --keystore")
	cmd.PersistentFlags().StringVar(&opts.Key, "keystore", opts.Key, "Keystore file (NOT FOLDER), path to key .json file. If provided, no need to use --secret-key")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", opts.Password, "Key raw password as text")
	cmd.PersistentFlags().StringVar(&opts.PasswordFile, "password-file", opts.PasswordFile, "Path to key password file")
	cmd.PersistentFlags().StringVar(&opts.From, "from", opts.From, "Sender address for node managed accounts and calls")
	cmd.PersistentFlags().Uint64Var(&opts.ChainID, "chain-id", opts.ChainID, "If no chain_id provided binary will try to get chain_id from given RPC")
	cmd.PersistentFlags().DurationVar(&opts.PollingInterval, "polling-interval", opts.PollingInterval, "Interval between receipt and filter polls")
	cmd.PersistentFlags().IntVar(&opts.Attempts, "attempts", opts.Attempts, "Receipt polls before giving up on a transaction")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "[Optional] Address to serve Prometheus metrics on, e.g. `:9090`")

	cmd.AddCommand(
		newSendCmd(&opts),
		newTransferCmd(&opts),
		newCallCmd(&opts),
		newWaitCmd(&opts),
		newWatchCmd(&opts),
	)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

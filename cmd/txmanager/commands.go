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
	"math/big"
	"os"
	"os/signal"
	"sync"

	"github.com/defiweb/go-eth/hexutil"
	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chronicleprotocol/txmanager/core"
)

// commandContext returns a context canceled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

func parseWei(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func parseBlock(s string) (types.BlockNumber, error) {
	switch s {
	case "", "latest":
		return types.LatestBlockNumber, nil
	case "pending":
		return types.PendingBlockNumber, nil
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return types.BlockNumber{}, fmt.Errorf("invalid block %q", s)
	}
	return types.BlockNumberFromBigInt(n), nil
}

func logReceipt(receipt *types.TransactionReceipt) {
	if core.IsEmptyReceipt(receipt) {
		logger.WithField("txHash", receipt.TransactionHash.String()).Infof("Transaction sent, not waiting for the receipt")
		return
	}
	log := logger.
		WithField("txHash", receipt.TransactionHash.String()).
		WithField("block", receipt.BlockNumber).
		WithField("gasUsed", receipt.GasUsed)
	if receipt.ContractAddress != nil {
		log = log.WithField("contract", receipt.ContractAddress.String())
	}
	log.Infof("Transaction mined")
}

type sendOptions struct {
	To            string
	Data          string
	Value         string
	GasPrice      string
	GasLimit      uint64
	Nonce         int64
	ClientManaged bool
	NoWait        bool
	PrivateFrom   string
	PrivacyGroup  string
	PrivateFor    []string
}

// manager builds the transaction manager selected by the send options.
func (o *options) manager(ctx context.Context, client *core.RpcGateway, send sendOptions) (core.TransactionManager, error) {
	var extra []core.ManagerOption
	if send.NoWait {
		extra = append(extra, core.WithReceiptProcessor(core.NoOpProcessor{}))
	}

	if send.ClientManaged {
		from, err := o.from()
		if err != nil {
			return nil, err
		}
		if from == types.ZeroAddress {
			return nil, fmt.Errorf("please provide sender using `--from` flag")
		}
		return core.NewClientTransactionManager(client, from, o.managerOptions(extra...)...), nil
	}

	creds, err := o.getCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	chainID, err := o.chainID(ctx, client)
	if err != nil {
		return nil, err
	}
	extra = append(extra, core.WithChainID(chainID))

	if send.PrivateFrom != "" {
		var target core.PrivacyTarget
		switch {
		case send.PrivacyGroup != "":
			target = core.PrivacyGroupID(send.PrivacyGroup)
		case len(send.PrivateFor) > 0:
			target = core.Participants(send.PrivateFor)
		default:
			return nil, fmt.Errorf("please provide `--privacy-group` or `--private-for` with `--private-from`")
		}
		return core.NewPrivateTransactionManager(client, creds, send.PrivateFrom, target, o.managerOptions(extra...)...)
	}
	return core.NewRawTransactionManager(client, creds, o.managerOptions(extra...)...), nil
}

func newSendCmd(opts *options) *cobra.Command {
	var send sendOptions
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a transaction and wait for its receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			params := core.TxParams{GasLimit: send.GasLimit}
			var err error
			if send.To != "" {
				to, err := types.AddressFromHex(send.To)
				if err != nil {
					return fmt.Errorf("failed to parse recipient %s: %w", send.To, err)
				}
				params.To = &to
			} else {
				params.Constructor = true
			}
			if send.Data != "" {
				if params.Data, err = hexutil.HexToBytes(send.Data); err != nil {
					return fmt.Errorf("failed to parse data: %w", err)
				}
			}
			if params.Value, err = parseWei("value", send.Value); err != nil {
				return err
			}
			if params.GasPrice, err = parseWei("gas price", send.GasPrice); err != nil {
				return err
			}
			if send.Nonce >= 0 {
				nonce := uint64(send.Nonce)
				params.Nonce = &nonce
			}

			client, closeClient, err := opts.gateway(ctx)
			if err != nil {
				return err
			}
			defer closeClient()

			m, err := opts.manager(ctx, client, send)
			if err != nil {
				return err
			}
			if params.GasPrice == nil && !send.ClientManaged && send.PrivateFrom == "" {
				if params.GasPrice, err = client.GasPrice(ctx); err != nil {
					return err
				}
			}
			receipt, err := m.ExecuteTransaction(ctx, params)
			if err != nil {
				return err
			}
			logReceipt(receipt)
			fmt.Println(receipt.TransactionHash.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&send.To, "to", "", "Recipient address, omit to deploy a contract")
	cmd.Flags().StringVar(&send.Data, "data", "", "Hex encoded call data or contract bytecode")
	cmd.Flags().StringVar(&send.Value, "value", "", "Value in wei")
	cmd.Flags().StringVar(&send.GasPrice, "gas-price", "", "Gas price in wei, defaults to the node's price (zero for private transactions)")
	cmd.Flags().Uint64Var(&send.GasLimit, "gas-limit", 0, "Gas limit")
	cmd.Flags().Int64Var(&send.Nonce, "nonce", -1, "Nonce override, by default the pending transaction count is used")
	cmd.Flags().BoolVar(&send.ClientManaged, "client-managed", false, "Let the node sign with the `--from` account (eth_sendTransaction)")
	cmd.Flags().BoolVar(&send.NoWait, "no-wait", false, "Return after broadcasting without waiting for the receipt")
	cmd.Flags().StringVar(&send.PrivateFrom, "private-from", "", "[Optional] Base64 enclave key of the sender, sends a private transaction")
	cmd.Flags().StringVar(&send.PrivacyGroup, "privacy-group", "", "Base64 privacy group id of a private transaction")
	cmd.Flags().StringArrayVar(&send.PrivateFor, "private-for", nil, "Base64 enclave keys of the private transaction recipients")
	return cmd
}

func newTransferCmd(opts *options) *cobra.Command {
	var (
		unit          string
		gasPrice      string
		clientManaged bool
	)
	cmd := &cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Transfer Ether and wait for the receipt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			to, err := types.AddressFromHex(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse recipient %s: %w", args[0], err)
			}
			u, err := core.ParseUnit(unit)
			if err != nil {
				return err
			}
			price, err := parseWei("gas price", gasPrice)
			if err != nil {
				return err
			}

			client, closeClient, err := opts.gateway(ctx)
			if err != nil {
				return err
			}
			defer closeClient()

			m, err := opts.manager(ctx, client, sendOptions{ClientManaged: clientManaged})
			if err != nil {
				return err
			}
			receipt, err := core.NewTransfer(m, client).SendFundsWithGas(ctx, to, args[1], u, price, core.TransferGasLimit)
			if err != nil {
				return err
			}
			logReceipt(receipt)
			return nil
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "ether", "Unit of the amount: wei, kwei, mwei, gwei, szabo, finney, ether, kether, mether, gether")
	cmd.Flags().StringVar(&gasPrice, "gas-price", "", "Gas price in wei, defaults to the node's price")
	cmd.Flags().BoolVar(&clientManaged, "client-managed", false, "Let the node sign with the `--from` account")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var to, data, block string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Execute a read-only call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			addr, err := types.AddressFromHex(to)
			if err != nil {
				return fmt.Errorf("failed to parse contract address %s: %w", to, err)
			}
			calldata, err := hexutil.HexToBytes(data)
			if err != nil {
				return fmt.Errorf("failed to parse data: %w", err)
			}
			bn, err := parseBlock(block)
			if err != nil {
				return err
			}
			from, err := opts.from()
			if err != nil {
				return err
			}

			client, closeClient, err := opts.gateway(ctx)
			if err != nil {
				return err
			}
			defer closeClient()

			out, err := core.NewReadonlyTransactionManager(client, from).SendCall(ctx, addr, calldata, bn)
			if err != nil {
				return err
			}
			fmt.Println(hexutil.BytesToHex(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Contract address")
	cmd.Flags().StringVar(&data, "data", "0x", "Hex encoded call data")
	cmd.Flags().StringVar(&block, "block", "latest", "Block number, latest or pending")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newWaitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "wait <hash>...",
		Short: "Wait for transaction receipts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			hashes := make([]types.Hash, 0, len(args))
			for _, a := range args {
				h, err := types.HashFromHex(a, types.PadNone)
				if err != nil {
					return fmt.Errorf("failed to parse transaction hash %s: %w", a, err)
				}
				hashes = append(hashes, h)
			}

			client, closeClient, err := opts.gateway(ctx)
			if err != nil {
				return err
			}
			defer closeClient()

			if len(hashes) == 1 {
				receipt, err := core.NewPollingProcessor(client, opts.PollingInterval, opts.Attempts).
					WaitForTransactionReceipt(ctx, hashes[0])
				if err != nil {
					return err
				}
				logReceipt(receipt)
				return nil
			}
			return waitQueued(ctx, client, hashes, opts)
		},
	}
}

// waitQueued tracks several transactions with a single batched poll loop.
func waitQueued(ctx context.Context, client *core.RpcGateway, hashes []types.Hash, opts *options) error {
	// The queue tracks a hash once, so it reports it once.
	hashes = uniqueHashes(hashes)
	pool := core.NewWorkerPool(2, len(hashes))
	defer pool.Close()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
	)
	wg.Add(len(hashes))
	callback := core.ReceiptCallbackFuncs{
		OnReceipt: func(receipt *types.TransactionReceipt) {
			defer wg.Done()
			logReceipt(receipt)
		},
		OnError: func(hash types.Hash, err error) {
			defer wg.Done()
			logger.WithField("txHash", hash.String()).Errorf("Failed to get receipt: %v", err)
			mu.Lock()
			failed++
			mu.Unlock()
		},
	}
	p := core.NewQueuingProcessor(client, callback,
		core.WithQueuePolling(opts.PollingInterval, opts.Attempts),
		core.WithCallbackExecutor(pool),
	)
	for _, h := range hashes {
		if _, err := p.WaitForTransactionReceipt(ctx, h); err != nil {
			return err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err := p.Run(runCtx); err != nil {
			logger.Errorf("Receipt processor stopped: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d transactions failed", failed, len(hashes))
	}
	return nil
}

func uniqueHashes(hashes []types.Hash) []types.Hash {
	seen := make(map[types.Hash]struct{}, len(hashes))
	unique := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, h)
	}
	return unique
}

func newWatchCmd(opts *options) *cobra.Command {
	var (
		addresses []string
		topics    []string
		fromBlock string
		toBlock   string
		chunk     uint64
	)
	cmd := &cobra.Command{
		Use:       "watch <logs|blocks|pending>",
		Short:     "Stream filter results until interrupted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"logs", "blocks", "pending"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			client, closeClient, err := opts.gateway(ctx)
			if err != nil {
				return err
			}
			defer closeClient()

			switch args[0] {
			case "logs":
				var query types.FilterLogsQuery
				for _, a := range addresses {
					addr, err := types.AddressFromHex(a)
					if err != nil {
						return fmt.Errorf("failed to parse address %s: %w", a, err)
					}
					query.Address = append(query.Address, addr)
				}
				if len(topics) > 0 {
					var first []types.Hash
					for _, tp := range topics {
						h, err := types.HashFromHex(tp, types.PadNone)
						if err != nil {
							return fmt.Errorf("failed to parse topic %s: %w", tp, err)
						}
						first = append(first, h)
					}
					query.Topics = [][]types.Hash{first}
				}
				if fromBlock != "" {
					return replay(ctx, client, query, fromBlock, toBlock, chunk)
				}
				return watch(ctx, client, core.LogFilter(query), opts, func(l types.Log) {
					logger.
						WithField("address", l.Address.String()).
						WithField("block", l.BlockNumber).
						Infof("Log %s", hexutil.BytesToHex(l.Data))
				})
			case "blocks":
				return watch(ctx, client, core.BlockFilter(), opts, func(h types.Hash) {
					logger.Infof("Block %s", h.String())
				})
			case "pending":
				return watch(ctx, client, core.PendingTransactionFilter(), opts, func(h types.Hash) {
					logger.Infof("Pending transaction %s", h.String())
				})
			default:
				return fmt.Errorf("unknown filter %q, expected logs, blocks or pending", args[0])
			}
		},
	}
	cmd.Flags().StringArrayVarP(&addresses, "address", "a", nil, "Contract address to filter logs by")
	cmd.Flags().StringArrayVar(&topics, "topic", nil, "First topic to filter logs by, repeat to match any of them")
	cmd.Flags().StringVar(&fromBlock, "from-block", "", "Replay logs starting at this block instead of watching")
	cmd.Flags().StringVar(&toBlock, "to-block", "", "Last block to replay")
	cmd.Flags().Uint64Var(&chunk, "chunk", 1000, "Blocks per eth_getLogs request while replaying")
	return cmd
}

func replay(ctx context.Context, client core.FilterClient, query types.FilterLogsQuery, from, to string, chunk uint64) error {
	start, ok := new(big.Int).SetString(from, 0)
	if !ok {
		return fmt.Errorf("invalid from block %q", from)
	}
	end, ok := new(big.Int).SetString(to, 0)
	if !ok {
		return fmt.Errorf("invalid to block %q, `--to-block` is required with `--from-block`", to)
	}
	logs, errCh := core.ReplayLogs(ctx, client, query, start, end, chunk)
	for l := range logs {
		logger.
			WithField("address", l.Address.String()).
			WithField("block", l.BlockNumber).
			Infof("Log %s", hexutil.BytesToHex(l.Data))
	}
	return <-errCh
}

func watch[T any](ctx context.Context, client core.FilterClient, kind core.FilterKind[T], opts *options, handle func(T)) error {
	sub, err := core.Subscribe(ctx, client, kind, opts.PollingInterval)
	if err != nil {
		return fmt.Errorf("failed to install %s filter: %w", kind.Name(), err)
	}
	defer sub.Unsubscribe()
	logger.WithField("subscription", sub.ID().String()).Infof("Watching %s filter", kind.Name())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			handle(ev)
		}
	}
}

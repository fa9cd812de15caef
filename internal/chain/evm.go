package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient is the concrete ChainClient for evm_caller/evm_logger
// ingesters, backed by go-ethereum's ethclient and dispatched across a
// per-chain Pool for retry-on-different-endpoint behaviour.
type EVMClient struct {
	registry *Registry
}

// NewEVMClient builds an EVMClient over a chain-ID registry populated from
// HTTP_RPCS_<chainid> endpoint lists.
func NewEVMClient(registry *Registry) *EVMClient {
	return &EVMClient{registry: registry}
}

// Call performs a contract read. selector is a minimal method signature of
// the form "name(inTypes...)(outTypes...)", e.g. "balanceOf(address)(uint256)".
func (c *EVMClient) Call(ctx context.Context, target, selector string) (Call, error) {
	chainID, address, err := SplitTarget(target)
	if err != nil {
		return Call{}, err
	}
	pool, ok := c.registry.Pool(chainID)
	if !ok {
		return Call{}, fmt.Errorf("chain: no RPC pool configured for chain %s", chainID)
	}

	method, err := parseMethodSignature(selector)
	if err != nil {
		return Call{}, err
	}

	var lastErr error
	for attempt := 0; attempt < len(pool.endpoints); attempt++ {
		ep, ok := pool.Next()
		if !ok {
			break
		}
		values, err := callOnce(ctx, ep.URL, address, method)
		if err == nil {
			return Call{Values: values}, nil
		}
		lastErr = err
		pool.MarkFailed(ep)
	}
	return Call{}, fmt.Errorf("chain: all endpoints exhausted for chain %s: %w", chainID, lastErr)
}

func callOnce(ctx context.Context, url, address string, method *abi.Method) ([]any, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	defer client.Close()

	data, err := method.Inputs.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack inputs for %s: %w", method.Name, err)
	}
	selector := method.ID
	callData := append(append([]byte{}, selector...), data...)

	to := common.HexToAddress(address)
	msg := ethereum.CallMsg{To: &to, Data: callData}
	out, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method.Name, err)
	}

	unpacked, err := method.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("unpack outputs for %s: %w", method.Name, err)
	}
	return unpacked, nil
}

// FilterLogs fetches decoded logs in [fromBlock, toBlock] for the event
// named by selector (spec §4.3 evm_logger polled mode).
func (c *EVMClient) FilterLogs(ctx context.Context, target, selector string, fromBlock, toBlock int64) ([]Call, error) {
	chainID, address, err := SplitTarget(target)
	if err != nil {
		return nil, err
	}
	pool, ok := c.registry.Pool(chainID)
	if !ok {
		return nil, fmt.Errorf("chain: no RPC pool configured for chain %s", chainID)
	}
	ep, ok := pool.Next()
	if !ok {
		return nil, fmt.Errorf("chain: all endpoints in cooldown for chain %s", chainID)
	}

	client, err := ethclient.DialContext(ctx, ep.URL)
	if err != nil {
		pool.MarkFailed(ep)
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}
	defer client.Close()

	topic := crypto.Keccak256Hash([]byte(selector))
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		Addresses: []common.Address{common.HexToAddress(address)},
		Topics:    [][]common.Hash{{topic}},
	}
	if toBlock >= 0 {
		query.ToBlock = big.NewInt(toBlock) // toBlock < 0 means "through chain head", left nil
	}
	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		pool.MarkFailed(ep)
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	calls := make([]Call, 0, len(logs))
	for _, lg := range logs {
		calls = append(calls, decodeLog(lg))
	}
	return calls, nil
}

// Subscribe streams newly confirmed logs matching selector until ctx is
// cancelled (spec §4.3 evm_logger perpetual mode).
func (c *EVMClient) Subscribe(ctx context.Context, target, selector string, out chan<- Call) error {
	chainID, address, err := SplitTarget(target)
	if err != nil {
		return err
	}
	pool, ok := c.registry.Pool(chainID)
	if !ok {
		return fmt.Errorf("chain: no RPC pool configured for chain %s", chainID)
	}
	ep, ok := pool.Next()
	if !ok {
		return fmt.Errorf("chain: all endpoints in cooldown for chain %s", chainID)
	}

	client, err := ethclient.DialContext(ctx, ep.URL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ep.URL, err)
	}

	topic := crypto.Keccak256Hash([]byte(selector))
	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(address)},
		Topics:    [][]common.Hash{{topic}},
	}
	logCh := make(chan types.Log)
	sub, err := client.SubscribeFilterLogs(ctx, query, logCh)
	if err != nil {
		client.Close()
		return fmt.Errorf("subscribe logs: %w", err)
	}

	go func() {
		defer client.Close()
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					pool.MarkFailed(ep)
				}
				return
			case lg := <-logCh:
				out <- decodeLog(lg)
			}
		}
	}()
	return nil
}

func decodeLog(lg types.Log) Call {
	values := make([]any, 0, len(lg.Topics)+1)
	for _, t := range lg.Topics {
		values = append(values, t.Hex())
	}
	values = append(values, "0x"+common.Bytes2Hex(lg.Data))
	return Call{Values: values, BlockNumber: lg.BlockNumber}
}

// parseMethodSignature builds a minimal abi.Method from a
// "name(inTypes...)(outTypes...)" signature string — the loader never has
// a full ABI JSON, only the compact form spec §4.3 describes ("a method
// signature with encoded return tuple shape").
func parseMethodSignature(sig string) (*abi.Method, error) {
	openIn := strings.Index(sig, "(")
	if openIn < 0 {
		return nil, fmt.Errorf("chain: malformed method signature %q", sig)
	}
	name := sig[:openIn]
	rest := sig[openIn:]

	closeIn := matchParen(rest, 0)
	if closeIn < 0 {
		return nil, fmt.Errorf("chain: unbalanced parens in signature %q", sig)
	}
	inTypes := rest[1:closeIn]
	outPart := rest[closeIn+1:]

	var outTypes string
	if len(outPart) >= 2 && outPart[0] == '(' {
		closeOut := matchParen(outPart, 0)
		if closeOut < 0 {
			return nil, fmt.Errorf("chain: unbalanced output parens in signature %q", sig)
		}
		outTypes = outPart[1:closeOut]
	}

	inputs, err := parseArgs(inTypes)
	if err != nil {
		return nil, fmt.Errorf("chain: parse inputs of %q: %w", sig, err)
	}
	outputs, err := parseArgs(outTypes)
	if err != nil {
		return nil, fmt.Errorf("chain: parse outputs of %q: %w", sig, err)
	}

	m := abi.NewMethod(name, name, abi.Function, "view", false, false, inputs, outputs)
	return &m, nil
}

func matchParen(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseArgs(list string) (abi.Arguments, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	args := make(abi.Arguments, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		t, err := abi.NewType(p, "", nil)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", p, err)
		}
		args = append(args, abi.Argument{Name: "arg" + strconv.Itoa(i), Type: t})
	}
	return args, nil
}

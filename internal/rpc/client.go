// Package rpc dials the chain node that non-wallet provider methods are forwarded to.
package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/idconnect/internal/chains"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// Dial connects to rawURL, or to the chain's default endpoint when rawURL is empty. The
// returned client satisfies idconnect.RPCClient.
func Dial(ctx context.Context, chain *chains.Blockchain, rawURL string) (*rpc.Client, error) {
	if rawURL == "" {
		rawURL = chain.RPCURL
	}
	if rawURL == "" {
		return nil, errors.Errorf("no rpc url for chain %s", chain.Name)
	}
	client, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s rpc", chain.Name)
	}
	log.Debugf("rpc - dialled %s for %s", rawURL, chain.Name)
	return client, nil
}

// CheckChain fails when the node serves a different chain than expected.
func CheckChain(ctx context.Context, client *rpc.Client, chain *chains.Blockchain) error {
	var id string
	if err := client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return errors.Wrap(err, "query eth_chainId")
	}
	if id != chain.IDHex {
		return errors.Errorf("rpc node serves chain %s, want %s (%s)", id, chain.IDHex, chain.Name)
	}
	return nil
}

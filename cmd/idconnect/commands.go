package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/idconnect/internal/idconnect"
	pkgcommon "moff.io/idconnect/pkg/common"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

const usage = `usage: idconnect [-config-path config.yml] <command>

commands:
  connect                 authorize with the id provider
  accounts                print the cached account
  chain                   print the configured chain
  sign <message>          personal_sign a message
  sign-typed <json>       eth_signTypedData_v4 an EIP-712 document
  send <json tx>          eth_sendTransaction
  call <method> [json]    any provider method, params as a JSON array
  disconnect              forget the session
  reset                   remove everything idconnect stored`

var errUsage = errors.New(usage)

func (a *app) run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	var (
		result interface{}
		err    error
	)
	switch cmd, rest := args[0], args[1:]; cmd {
	case "connect":
		result, err = a.connect(ctx)
	case "accounts":
		result, err = a.provider.Request(ctx, idconnect.MethodAccounts)
	case "chain":
		c := a.provider.Chain()
		result = map[string]interface{}{"id": c.ID, "chainId": c.IDHex, "name": c.Name}
	case "sign":
		if len(rest) != 1 {
			return errUsage
		}
		result, err = a.provider.Request(ctx, idconnect.MethodPersonalSign, rest[0])
	case "sign-typed":
		if len(rest) != 1 {
			return errUsage
		}
		result, err = a.signTyped(ctx, rest[0])
	case "send":
		if len(rest) != 1 {
			return errUsage
		}
		var tx map[string]interface{}
		if err := json.Unmarshal([]byte(rest[0]), &tx); err != nil {
			return errors.Wrap(err, "transaction must be a JSON object")
		}
		result, err = a.provider.Request(ctx, idconnect.MethodSendTransaction, tx)
	case "call":
		if len(rest) < 1 || len(rest) > 2 {
			return errUsage
		}
		params, perr := parseParams(rest[1:])
		if perr != nil {
			return perr
		}
		result, err = a.provider.Request(ctx, rest[0], params...)
	case "disconnect":
		err = a.provider.Disconnect(ctx)
		result = map[string]interface{}{"connected": false}
	case "reset":
		if err = a.provider.Disconnect(ctx); err == nil {
			err = a.store.Purge(ctx)
		}
		result = map[string]interface{}{"reset": err == nil}
	default:
		return errors.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, pkgcommon.MustGetJSONString(result))
	return nil
}

// connect runs the handshake. In redirect mode the id provider sends the browser back to the
// loopback listener, which is awaited before resuming.
func (a *app) connect(ctx context.Context) (interface{}, error) {
	addr, err := a.provider.Connect(ctx)
	if errors.Is(err, idconnect.ErrRedirected) && a.landed != nil {
		log.Infof("waiting for the id provider to redirect back")
		select {
		case <-a.landed:
		case <-time.After(a.cfg.IDProvider.Timeout):
			return nil, idconnect.ErrTimeout
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
		addr, err = a.provider.ResumeRedirect(ctx)
	}
	if err != nil {
		return nil, err
	}
	return []string{addr.Hex()}, nil
}

func (a *app) signTyped(ctx context.Context, doc string) (interface{}, error) {
	var addr common.Address
	if s, ok := a.provider.Session(ctx); ok {
		addr = s.Address
	} else {
		connected, err := a.provider.Connect(ctx)
		if err != nil {
			return nil, err
		}
		addr = connected
	}
	return a.provider.Request(ctx, idconnect.MethodSignTypedDataV4, addr.Hex(), doc)
}

func parseParams(args []string) ([]interface{}, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, nil
	}
	var params []interface{}
	if err := json.Unmarshal([]byte(args[0]), &params); err != nil {
		return nil, errors.Wrap(err, "params must be a JSON array")
	}
	return params, nil
}

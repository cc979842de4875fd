package idconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

const (
	signatureLength = crypto.SignatureLength
	hashLength      = common.HashLength
)

// action is a signing or transaction request waiting for confirmation by the id provider.
type action struct {
	method   string
	params   []interface{}
	expected *common.Address
	// digest the signature must recover against, signing methods only
	digest []byte
}

// confirm runs a signing or transaction round-trip through the id provider.
func (p *Provider) confirm(ctx context.Context, method string, params []interface{}) (string, error) {
	act, err := p.prepareAction(method, params)
	if err != nil {
		return "", err
	}
	addr, ok := p.session.Get(ctx)
	if !ok {
		log.Debugf("idconnect - %s needs an authorized address, connecting first", method)
		if addr, err = p.Connect(ctx); err != nil {
			return "", err
		}
	}
	if act.expected != nil && *act.expected != addr {
		return "", errors.Wrapf(ErrUnauthorized, "%s for %s but %s is authorized",
			method, act.expected.Hex(), addr.Hex())
	}
	if method == MethodSendTransaction {
		tx := act.params[0].(map[string]interface{})
		if _, ok := tx["from"]; !ok {
			tx["from"] = addr.Hex()
		}
	}
	encoded, err := json.Marshal(act.params)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidPayload, "encode %s params: %v", method, err)
	}
	resp, err := p.messenger.SendRequest(ctx, method, func(ctx context.Context, state string) (Window, error) {
		q := p.baseParams(state)
		q.Set("method", method)
		q.Set("params", string(encoded))
		return p.launcher.OpenPopup(ctx, p.confirmURL(), q)
	})
	if err != nil {
		return "", err
	}
	return p.checkAction(act, resp, addr)
}

func (p *Provider) prepareAction(method string, params []interface{}) (*action, error) {
	act := &action{method: method, params: params}
	var err error
	switch method {
	case MethodPersonalSign:
		if len(params) < 1 {
			return nil, errors.Wrap(ErrInvalidPayload, "personal_sign needs a message")
		}
		msg, ok := params[0].(string)
		if !ok {
			return nil, errors.Wrap(ErrInvalidPayload, "personal_sign message must be a string")
		}
		if len(params) > 1 {
			if act.expected, err = addressParam(params[1]); err != nil {
				return nil, err
			}
		}
		act.digest = accounts.TextHash(personalMessage(msg))
	case MethodSignTypedDataV4:
		if len(params) < 2 {
			return nil, errors.Wrap(ErrInvalidPayload, "eth_signTypedData_v4 needs an address and typed data")
		}
		if act.expected, err = addressParam(params[0]); err != nil {
			return nil, err
		}
		td, err := parseTypedData(params[1])
		if err != nil {
			return nil, err
		}
		if id := td.Domain.ChainId; id != nil && (*big.Int)(id).Cmp(big.NewInt(int64(p.chain.ID))) != 0 {
			return nil, errors.Wrapf(ErrInvalidPayload, "typed data for chain %v, provider is on %d", (*big.Int)(id), p.chain.ID)
		}
		if act.digest, err = typedDataHash(td); err != nil {
			return nil, err
		}
	case MethodSendTransaction:
		if len(params) < 1 {
			return nil, errors.Wrap(ErrInvalidPayload, "eth_sendTransaction needs a transaction")
		}
		tx, err := objectParam(params[0])
		if err != nil {
			return nil, err
		}
		if from, ok := tx["from"]; ok {
			if act.expected, err = addressParam(from); err != nil {
				return nil, err
			}
		}
		act.params = append([]interface{}{tx}, params[1:]...)
	default:
		return nil, errors.Errorf("idconnect: %s is not a confirmable method", method)
	}
	return act, nil
}

// checkAction validates the id provider's answer and returns the signature or tx hash.
func (p *Provider) checkAction(act *action, resp *Response, addr common.Address) (string, error) {
	if resp.Address != "" {
		signer, err := ParseAddress(resp.Address)
		if err != nil {
			return "", err
		}
		if signer != addr {
			return "", errors.Wrapf(ErrUnauthorized, "%s answered by %s, authorized %s", act.method, signer.Hex(), addr.Hex())
		}
	}
	data, err := hexutil.Decode(resp.Data)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidPayload, "%s result %q: %v", act.method, resp.Data, err)
	}
	if act.method == MethodSendTransaction {
		if len(data) != hashLength {
			return "", errors.Wrapf(ErrInvalidPayload, "transaction hash has %d bytes", len(data))
		}
		return common.BytesToHash(data).Hex(), nil
	}
	if len(data) != signatureLength {
		return "", errors.Wrapf(ErrInvalidPayload, "signature has %d bytes", len(data))
	}
	if p.opts.VerifySignatures {
		signer, err := recoverSigner(act.digest, data)
		if err != nil {
			return "", errors.Wrapf(ErrUnauthorized, "recover %s signer: %v", act.method, err)
		}
		if signer != addr {
			return "", errors.Wrapf(ErrUnauthorized, "%s signed by %s, authorized %s", act.method, signer.Hex(), addr.Hex())
		}
	}
	return hexutil.Encode(data), nil
}

func addressParam(v interface{}) (*common.Address, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidAddress, "address param %v is not a string", v)
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// objectParam turns a JSON object param (map or struct) into a map owned by the caller.
func objectParam(v interface{}) (map[string]interface{}, error) {
	if m, ok := v.(map[string]interface{}); ok {
		cp := make(map[string]interface{}, len(m))
		for k, val := range m {
			cp[k] = val
		}
		return cp, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "encode param: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, errors.Wrap(ErrInvalidPayload, "param is not an object")
	}
	return m, nil
}

// personalMessage treats 0x-prefixed hex as raw bytes and anything else as utf-8 text.
func personalMessage(msg string) []byte {
	if b, err := hexutil.Decode(msg); err == nil {
		return b
	}
	return []byte(msg)
}

// parseTypedData accepts EIP-712 typed data as a JSON string or as an object.
func parseTypedData(v interface{}) (*apitypes.TypedData, error) {
	var raw []byte
	switch t := v.(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidPayload, "encode typed data: %v", err)
		}
		raw = b
	}
	raw, err := quoteDomainChainID(raw)
	if err != nil {
		return nil, err
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "typed data: %v", err)
	}
	if td.PrimaryType == "" {
		return nil, errors.Wrap(ErrInvalidPayload, "typed data has no primaryType")
	}
	if _, ok := td.Types[td.PrimaryType]; !ok {
		return nil, errors.Wrapf(ErrInvalidPayload, "typed data does not define %s", td.PrimaryType)
	}
	if _, ok := td.Types["EIP712Domain"]; !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "typed data does not define EIP712Domain")
	}
	return &td, nil
}

// quoteDomainChainID rewrites a numeric domain.chainId as a string, the only form
// HexOrDecimal256 decodes.
func quoteDomainChainID(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "typed data: %v", err)
	}
	domain, ok := doc["domain"].(map[string]interface{})
	if !ok {
		return raw, nil
	}
	n, ok := domain["chainId"].(json.Number)
	if !ok {
		return raw, nil
	}
	domain["chainId"] = n.String()
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "typed data: %v", err)
	}
	return out, nil
}

// typedDataHash is the EIP-712 digest keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func typedDataHash(td *apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "hash typed data domain: %v", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "hash typed data message: %v", err)
	}
	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256(raw), nil
}

func recoverSigner(digest, signature []byte) (common.Address, error) {
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

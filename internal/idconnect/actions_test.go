package idconnect

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTypedData = `{
	"types": {
		"EIP712Domain": [
			{"name": "name", "type": "string"},
			{"name": "version", "type": "string"},
			{"name": "chainId", "type": "uint256"}
		],
		"Greeting": [
			{"name": "from", "type": "address"},
			{"name": "contents", "type": "string"}
		]
	},
	"primaryType": "Greeting",
	"domain": {"name": "idconnect", "version": "1", "chainId": 1},
	"message": {"from": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "contents": "hello"}
}`

func sign(t *testing.T, key string, digest []byte) string {
	pk, err := crypto.HexToECDSA(key)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, pk)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

// confirmAnswer authorizes testAddress and answers confirmations with result.
func confirmAnswer(result string) func(u *url.URL) *Response {
	return func(u *url.URL) *Response {
		q := u.Query()
		if q.Get("method") == "" {
			return authAnswer(testAddress)(u)
		}
		return &Response{Method: q.Get("method"), Status: StatusSuccess, State: q.Get("state"), Data: result, Address: testAddress}
	}
}

func TestPersonalSignConnectsFirst(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sig := sign(t, testPrivateKey, accounts.TextHash([]byte("hello")))
	env.opener.respond = confirmAnswer(sig)

	got, err := env.provider.Request(context.Background(), MethodPersonalSign, "hello")
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	opened := env.opener.opened()
	require.Len(t, opened, 2)
	assert.Equal(t, "/client/demo/authorize", opened[0].Path)
	assert.Equal(t, "/client/demo/confirm", opened[1].Path)
	q := opened[1].Query()
	assert.Equal(t, MethodPersonalSign, q.Get("method"))
	assert.JSONEq(t, `["hello"]`, q.Get("params"))
	assert.Equal(t, testCallerOrigin, q.Get("origin"))
	assert.Len(t, env.events.all(), 2)
}

func TestPersonalSignVerifiesSigner(t *testing.T) {
	hexDigest := accounts.TextHash([]byte{0xde, 0xad, 0xbe, 0xef})

	env := newTestEnv(t, func(o *Options) { o.VerifySignatures = true }, nil)
	env.storage.data[DefaultStorageKey] = testAddress
	env.opener.respond = confirmAnswer(sign(t, testPrivateKey, hexDigest))
	_, err := env.provider.Request(context.Background(), MethodPersonalSign, "0xdeadbeef", testAddress)
	require.NoError(t, err)

	// Signed by somebody else.
	otherKey := "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	env.opener.respond = confirmAnswer(sign(t, otherKey, hexDigest))
	_, err = env.provider.Request(context.Background(), MethodPersonalSign, "0xdeadbeef", testAddress)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestPersonalSignExpectedAddressMismatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.storage.data[DefaultStorageKey] = testAddress

	_, err := env.provider.Request(context.Background(), MethodPersonalSign, "hello", testOtherAddress)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, env.opener.opened())
}

func TestPersonalSignBadResult(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   error
	}{
		{"not hex", "signed", ErrInvalidPayload},
		{"short", "0x1234", ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			env.storage.data[DefaultStorageKey] = testAddress
			env.opener.respond = confirmAnswer(tt.result)
			_, err := env.provider.Request(context.Background(), MethodPersonalSign, "hello")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfirmAnsweredByOtherAddress(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.storage.data[DefaultStorageKey] = testAddress
	env.opener.respond = func(u *url.URL) *Response {
		q := u.Query()
		return &Response{Method: q.Get("method"), Status: StatusSuccess, State: q.Get("state"),
			Data: sign(t, testPrivateKey, accounts.TextHash([]byte("hello"))), Address: testOtherAddress}
	}
	_, err := env.provider.Request(context.Background(), MethodPersonalSign, "hello")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSignTypedData(t *testing.T) {
	td, err := parseTypedData(testTypedData)
	require.NoError(t, err)
	digest, err := typedDataHash(td)
	require.NoError(t, err)

	env := newTestEnv(t, func(o *Options) { o.VerifySignatures = true }, nil)
	env.storage.data[DefaultStorageKey] = testAddress
	sig := sign(t, testPrivateKey, digest)
	env.opener.respond = confirmAnswer(sig)

	got, err := env.provider.Request(context.Background(), MethodSignTypedDataV4, testAddress, testTypedData)
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	opened := env.opener.opened()
	require.Len(t, opened, 1)
	var params []interface{}
	require.NoError(t, json.Unmarshal([]byte(opened[0].Query().Get("params")), &params))
	assert.Equal(t, testAddress, params[0])
}

func TestSignTypedDataRefuses(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.ChainID = 5 }, nil)
	env.storage.data[DefaultStorageKey] = testAddress
	ctx := context.Background()

	_, err := env.provider.Request(ctx, MethodSignTypedDataV4, testAddress, testTypedData)
	require.ErrorIs(t, err, ErrInvalidPayload, "domain is on chain 1")

	_, err = env.provider.Request(ctx, MethodSignTypedDataV4, testAddress, `{"types":{}}`)
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = env.provider.Request(ctx, MethodSignTypedDataV4, testAddress)
	require.ErrorIs(t, err, ErrInvalidPayload)
	assert.Empty(t, env.opener.opened())
}

func TestSendTransaction(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.storage.data[DefaultStorageKey] = testAddress
	hash := "0xab" + strings.Repeat("00", 31)
	env.opener.respond = confirmAnswer(hash)

	tx := map[string]interface{}{
		"to":    testOtherAddress,
		"value": "0xde0b6b3a7640000",
	}
	got, err := env.provider.Request(context.Background(), MethodSendTransaction, tx)
	require.NoError(t, err)
	assert.Equal(t, hash, got)
	assert.NotContains(t, tx, "from", "the caller's transaction is left untouched")

	opened := env.opener.opened()
	require.Len(t, opened, 1)
	var params []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(opened[0].Query().Get("params")), &params))
	require.Len(t, params, 1)
	assert.Equal(t, testAddress, params[0]["from"])
	assert.Equal(t, testOtherAddress, params[0]["to"])
}

func TestSendTransactionRefuses(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.storage.data[DefaultStorageKey] = testAddress
	ctx := context.Background()

	_, err := env.provider.Request(ctx, MethodSendTransaction, map[string]interface{}{"from": testOtherAddress})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.provider.Request(ctx, MethodSendTransaction, "not an object")
	require.ErrorIs(t, err, ErrInvalidPayload)
	assert.Empty(t, env.opener.opened())

	env.opener.respond = confirmAnswer(sign(t, testPrivateKey, accounts.TextHash([]byte("x"))))
	_, err = env.provider.Request(ctx, MethodSendTransaction, map[string]interface{}{"to": testOtherAddress})
	require.ErrorIs(t, err, ErrInvalidPayload, "a signature is not a tx hash")
}

func TestQuoteDomainChainID(t *testing.T) {
	out, err := quoteDomainChainID([]byte(`{"domain":{"chainId":137,"name":"x"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":{"chainId":"137","name":"x"}}`, string(out))

	out, err = quoteDomainChainID([]byte(`{"domain":{"chainId":"0x89"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":{"chainId":"0x89"}}`, string(out))
}

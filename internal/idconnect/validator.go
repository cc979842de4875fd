package idconnect

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/idconnect/pkg/errors"
)

// Credential is the identity returned by a successful authorization.
type Credential struct {
	Address common.Address
	Token   string
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address. Mixed-case input must carry a
// valid EIP-55 checksum; all-lower and all-upper input is accepted and checksummed.
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && addr.Hex() != s {
		return common.Address{}, errors.Wrapf(ErrInvalidAddress, "bad checksum %q", s)
	}
	return addr, nil
}

// Validate checks an authorization response. Anything other than a successful payload with a
// usable address is refused; the token is passed through untouched.
func Validate(resp *Response) (*Credential, error) {
	if resp == nil {
		return nil, errors.Wrap(ErrUnauthorized, "no response")
	}
	if resp.Status != StatusSuccess {
		return nil, errors.Wrapf(ErrRejected, "type %q", resp.Status)
	}
	if resp.Address == "" {
		return nil, errors.Wrap(ErrInvalidAddress, "address missing")
	}
	addr, err := ParseAddress(resp.Address)
	if err != nil {
		return nil, err
	}
	return &Credential{Address: addr, Token: resp.Data}, nil
}

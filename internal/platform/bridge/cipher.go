package bridge

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"moff.io/idconnect/pkg/errors"
)

const (
	keyBytes = 256 / 8
	ivBytes  = 128 / 8
)

var errBadHmac = errors.New("bridge: inconsistent payload hmac")

// sealedPayload is the encrypted form of a frame payload: AES-256-CBC with PKCS#7 padding,
// authenticated by HMAC-SHA256 over ciphertext||iv.
type sealedPayload struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "generate random bytes")
	}
	return b, nil
}

func hmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}

func seal(plain, key []byte) (string, error) {
	iv, err := generateRandomBytes(ivBytes)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "create new cipher block")
	}
	padded := pkcs7Padding(plain, aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)
	unsigned := append(append([]byte{}, data...), iv...)
	b, err := json.Marshal(sealedPayload{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(hmacSha256(unsigned, key)),
	})
	if err != nil {
		return "", errors.Wrap(err, "encode sealed payload")
	}
	return string(b), nil
}

func unseal(payload string, key []byte) ([]byte, error) {
	var sp sealedPayload
	if err := json.Unmarshal([]byte(payload), &sp); err != nil {
		return nil, errors.Wrap(err, "unmarshal sealed payload")
	}
	iv, err := hex.DecodeString(sp.IV)
	if err != nil || len(iv) != ivBytes {
		return nil, errors.Errorf("bad iv %q", sp.IV)
	}
	data, err := hex.DecodeString(sp.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	mac, err := hex.DecodeString(sp.Hmac)
	if err != nil {
		return nil, errors.Wrap(err, "decode hmac hex")
	}
	unsigned := append(append([]byte{}, data...), iv...)
	if !hmac.Equal(mac, hmacSha256(unsigned, key)) {
		return nil, errBadHmac
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return pkcs7Unpadding(plain, aes.BlockSize)
}

func pkcs7Padding(text []byte, blockSize int) []byte {
	padding := blockSize - len(text)%blockSize
	return append(append([]byte{}, text...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpadding(text []byte, blockSize int) ([]byte, error) {
	n := len(text)
	if n == 0 {
		return nil, errors.New("empty plaintext")
	}
	padding := int(text[n-1])
	if padding == 0 || padding > blockSize || padding > n {
		return nil, errors.New("bad padding")
	}
	for _, b := range text[n-padding:] {
		if int(b) != padding {
			return nil, errors.New("bad padding")
		}
	}
	return text[:n-padding], nil
}

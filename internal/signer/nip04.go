package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ivSeparator joins the ciphertext and the initialization vector in the
// NIP-04 wire format "base64(ciphertext)?iv=base64(iv)".
const ivSeparator = "?iv="

func sharedSecret(key *secp256k1.PrivateKey, peerHex string) ([]byte, error) {
	peerHex = strings.TrimSpace(peerHex)
	if len(peerHex) == 64 {
		// x-only key; assume the even-y point
		peerHex = "02" + peerHex
	}
	raw, err := hex.DecodeString(peerHex)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	peer, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	return secp256k1.GenerateSharedSecret(key, peer), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}

// nip04Encrypt encrypts plaintext for the peer with AES-256-CBC keyed by
// the ECDH shared x coordinate.
func nip04Encrypt(key *secp256k1.PrivateKey, peerHex, plaintext string) (string, error) {
	secret, err := sharedSecret(key, peerHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext) + ivSeparator + base64.StdEncoding.EncodeToString(iv), nil
}

// nip04Decrypt reverses nip04Encrypt.
func nip04Decrypt(key *secp256k1.PrivateKey, peerHex, payload string) (string, error) {
	encoded, ivEncoded, ok := strings.Cut(payload, ivSeparator)
	if !ok {
		return "", fmt.Errorf("missing iv separator")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivEncoded)
	if err != nil {
		return "", fmt.Errorf("invalid iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid ciphertext length %d", len(ciphertext))
	}
	secret, err := sharedSecret(key, peerHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// Copyright 2024 github.com/ucirello
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secureconfig implements the secure-data engine: machine-bound
// master-key lifecycle, HKDF-SHA256 subkey derivation, and authenticated
// string encryption with legacy-format read compatibility, per §4.C.
package secureconfig

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"

	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/servyerr"
)

const (
	// prefixV2 marks the authenticated, current-generation format.
	prefixV2 = "SERVY_ENC:v2:"
	// prefixV1 marks the legacy static-IV format, accepted on read only.
	prefixV1 = "SERVY_ENC:v1:"
	// prefixLegacy is the bare form some older records used, with no
	// version tag, distinguishable only by a valid base64 body.
	prefixLegacy = "SERVY_ENC:"

	keySize = 32 // AES-256
	ivSize  = 16

	hkdfSalt    = "servy-secureconfig-salt-v1"
	infoEncrypt = "servy-secureconfig-k-enc"
	infoMAC     = "servy-secureconfig-k-mac"

	chunkSize = 4096
)

// Engine seals and unseals string values. A single Engine instance owns one
// master key and one legacy static IV, both sealed at rest via the
// platform's machine-bound secret store.
type Engine struct {
	sealer platform.SecretSealer

	keyPath string
	ivPath  string

	masterKey []byte // 32 bytes
	legacyIV  []byte // 16 bytes
	kEnc      []byte // derived AES-256 key
	kMAC      []byte // derived HMAC-SHA256 key

	sink        platform.EventSink
	serviceName string
}

// Open loads (or, on first use, generates and seals) the master key and
// legacy IV at the given paths. keyPath and ivPath must differ.
func Open(sealer platform.SecretSealer, keyPath, ivPath string, sink platform.EventSink, serviceName string) (*Engine, error) {
	const op = "secureconfig.Open"
	if keyPath == "" || ivPath == "" {
		return nil, servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("key and IV paths must be set"))
	}
	if filepath.Clean(keyPath) == filepath.Clean(ivPath) {
		return nil, servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("key path and IV path must differ"))
	}

	e := &Engine{sealer: sealer, keyPath: keyPath, ivPath: ivPath, sink: sink, serviceName: serviceName}

	masterKey, err := loadOrCreateSealed(sealer, keyPath, keySize)
	if err != nil {
		return nil, servyerr.New(servyerr.CryptoFailure, op, err)
	}
	legacyIV, err := loadOrCreateSealed(sealer, ivPath, ivSize)
	if err != nil {
		zero(masterKey)
		return nil, servyerr.New(servyerr.CryptoFailure, op, err)
	}

	e.masterKey = masterKey
	e.legacyIV = legacyIV
	e.kEnc, err = derive(masterKey, infoEncrypt, keySize)
	if err != nil {
		e.Close()
		return nil, servyerr.New(servyerr.CryptoFailure, op, err)
	}
	e.kMAC, err = derive(masterKey, infoMAC, keySize)
	if err != nil {
		e.Close()
		return nil, servyerr.New(servyerr.CryptoFailure, op, err)
	}
	return e, nil
}

// Close zeroes all sensitive key material held in memory.
func (e *Engine) Close() {
	zero(e.masterKey)
	zero(e.legacyIV)
	zero(e.kEnc)
	zero(e.kMAC)
}

func loadOrCreateSealed(sealer platform.SecretSealer, path string, size int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		plain, err := sealer.Unseal(raw)
		if err != nil {
			return nil, fmt.Errorf("unseal %s: %w", path, err)
		}
		if len(plain) != size {
			zero(plain)
			return nil, fmt.Errorf("sealed file %s has unexpected length", path)
		}
		return plain, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	plain := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, plain); err != nil {
		return nil, fmt.Errorf("generate random material: %w", err)
	}
	sealed, err := sealer.Seal(plain)
	if err != nil {
		zero(plain)
		return nil, fmt.Errorf("seal %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			zero(plain)
			return nil, err
		}
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		zero(plain)
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return plain, nil
}

func derive(masterKey []byte, info string, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, []byte(hkdfSalt), []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encrypt produces the v2 authenticated format:
// "SERVY_ENC:v2:" + base64(IV ‖ CT ‖ TAG).
func (e *Engine) Encrypt(plaintext string) (string, error) {
	const op = "secureconfig.Encrypt"
	if plaintext == "" {
		return "", servyerr.New(servyerr.ConfigInvalid, op, fmt.Errorf("empty plaintext is rejected"))
	}

	iv := make([]byte, ivSize)
	defer zero(iv)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", servyerr.New(servyerr.CryptoFailure, op, err)
	}

	pt := []byte(plaintext)
	defer zero(pt)
	ct, err := cbcEncrypt(e.kEnc, iv, pt)
	defer zero(ct)
	if err != nil {
		return "", servyerr.New(servyerr.CryptoFailure, op, err)
	}

	tag := tagOf(e.kMAC, iv, ct)
	defer zero(tag)

	payload := make([]byte, 0, len(iv)+len(ct)+len(tag))
	payload = append(payload, iv...)
	payload = append(payload, ct...)
	payload = append(payload, tag...)
	defer zero(payload)

	return prefixV2 + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt recognizes three shapes, per §4.C:
//  1. v2 authenticated — verified in constant time; a tamper/legacy
//     mismatch returns the raw payload unchanged rather than erroring, and
//     is logged at Warning.
//  2. v1/bare-legacy — decrypted with the master key and the static legacy
//     IV, accepted on read only.
//  3. anything else — returned unchanged (plaintext passthrough).
func (e *Engine) Decrypt(value string) string {
	switch {
	case strings.HasPrefix(value, prefixV2):
		return e.decryptV2(strings.TrimPrefix(value, prefixV2))
	case strings.HasPrefix(value, prefixV1):
		return e.decryptLegacy(strings.TrimPrefix(value, prefixV1))
	case strings.HasPrefix(value, prefixLegacy):
		body := strings.TrimPrefix(value, prefixLegacy)
		if isStrictBase64(body) {
			return e.decryptLegacy(body)
		}
		return value
	default:
		return value
	}
}

func (e *Engine) decryptV2(body string) string {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		e.warn("v2 payload is not valid base64, treating as plaintext")
		return body
	}
	// iv, ct, and tag below are subslices of raw's backing array, so
	// zeroing raw zeroes all three.
	defer zero(raw)
	if len(raw) < ivSize+sha256.Size {
		e.warn("v2 payload too short, treating as plaintext")
		return body
	}
	iv := raw[:ivSize]
	tagStart := len(raw) - sha256.Size
	ct := raw[ivSize:tagStart]
	tag := raw[tagStart:]

	want := tagOf(e.kMAC, iv, ct)
	defer zero(want)
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		e.warn("v2 payload failed integrity check, returning ciphertext verbatim (tamper or legacy data)")
		return body
	}

	pt, err := cbcDecrypt(e.kEnc, iv, ct)
	if err != nil {
		e.warn("v2 payload failed to decrypt after passing integrity check: %v", err)
		return body
	}
	defer zero(pt)
	return string(pt)
}

func (e *Engine) decryptLegacy(body string) string {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		e.warn("legacy payload is not valid base64, treating as plaintext")
		return body
	}
	defer zero(raw)
	pt, err := cbcDecrypt(e.masterKey, e.legacyIV, raw)
	if err != nil {
		e.warn("legacy payload failed to decrypt: %v", err)
		return body
	}
	defer zero(pt)
	return string(pt)
}

func (e *Engine) warn(format string, args ...any) {
	if e.sink == nil {
		return
	}
	e.sink.Write(platform.LevelWarning, e.serviceName, fmt.Sprintf(format, args...))
}

func tagOf(kMAC, iv, ct []byte) []byte {
	mac := hmac.New(sha256.New, kMAC)
	mac.Write(iv)
	mac.Write(ct)
	return mac.Sum(nil)
}

// cbcEncrypt PKCS7-pads and AES-256-CBC encrypts plaintext, feeding it to
// the cipher in 4 KiB chunks; the padded copy and the output are each
// allocated at full size.
func cbcEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	defer zero(padded)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)

	for off := 0; off < len(padded); off += chunkSize {
		end := off + chunkSize
		if end > len(padded) {
			end = len(padded)
		}
		mode.CryptBlocks(out[off:end], padded[off:end])
	}
	return out, nil
}

func cbcDecrypt(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ct))
	mode := cipher.NewCBCDecrypter(block, iv)
	for off := 0; off < len(ct); off += chunkSize {
		end := off + chunkSize
		if end > len(ct) {
			end = len(ct)
		}
		mode.CryptBlocks(out[off:end], ct[off:end])
	}
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, fmt.Errorf("invalid padding bytes")
	}
	return data[:len(data)-padLen], nil
}

func isStrictBase64(s string) bool {
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

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

package secureconfig

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"cirello.io/servy/internal/platform"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(platform.FakeSecretSealer{}, filepath.Join(dir, "key.bin"), filepath.Join(dir, "iv.bin"), nil, "test-svc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	c, err := e.Encrypt("P@ss w0rd")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c, prefixV2) {
		t.Fatalf("ciphertext %q missing v2 prefix", c)
	}
	got := e.Decrypt(c)
	if got != "P@ss w0rd" {
		t.Fatalf("decrypt = %q, want %q", got, "P@ss w0rd")
	}
}

func TestEncrypt_RejectsEmpty(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Encrypt(""); err == nil {
		t.Fatal("expected error for empty plaintext")
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	e := openTestEngine(t)
	c, err := e.Encrypt("P@ss w0rd")
	if err != nil {
		t.Fatal(err)
	}
	body := strings.TrimPrefix(c, prefixV2)
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		t.Fatal(err)
	}
	raw[20] ^= 0xFF
	tampered := prefixV2 + base64.StdEncoding.EncodeToString(raw)

	got := e.Decrypt(tampered)
	if got == "P@ss w0rd" {
		t.Fatal("tampered ciphertext decrypted successfully")
	}
	// Falls back to returning the raw (tampered) payload body, not erroring.
	if want := strings.TrimPrefix(tampered, prefixV2); got != want {
		t.Fatalf("expected fallback to raw payload body, got %q", got)
	}
}

func TestDecrypt_PassthroughForPlaintext(t *testing.T) {
	e := openTestEngine(t)
	if got := e.Decrypt("plain-value"); got != "plain-value" {
		t.Fatalf("got %q, want passthrough", got)
	}
}

func TestDecrypt_LegacyStaticIV(t *testing.T) {
	e := openTestEngine(t)
	// Legacy records were encrypted with the master key directly, not kEnc.
	ct, err := cbcEncrypt(e.masterKey, e.legacyIV, []byte("old-secret"))
	if err != nil {
		t.Fatal(err)
	}
	legacy := prefixV1 + base64.StdEncoding.EncodeToString(ct)
	if got := e.Decrypt(legacy); got != "old-secret" {
		t.Fatalf("legacy decrypt = %q, want %q", got, "old-secret")
	}
}

func TestOpen_RejectsSamePath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "same.bin")
	if _, err := Open(platform.FakeSecretSealer{}, p, p, nil, "svc"); err == nil {
		t.Fatal("expected error for identical key/IV paths")
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.bin")
	ivPath := filepath.Join(dir, "iv.bin")

	e1, err := Open(platform.FakeSecretSealer{}, keyPath, ivPath, nil, "svc")
	if err != nil {
		t.Fatal(err)
	}
	c, err := e1.Encrypt("hello")
	if err != nil {
		t.Fatal(err)
	}
	e1.Close()

	e2, err := Open(platform.FakeSecretSealer{}, keyPath, ivPath, nil, "svc")
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	if got := e2.Decrypt(c); got != "hello" {
		t.Fatalf("decrypt after reopen = %q, want %q", got, "hello")
	}
}

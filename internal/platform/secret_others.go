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

//go:build !windows

package platform

// FakeSecretSealer is the portable stand-in for DPAPI: it round-trips bytes
// unchanged. It provides none of the machine-binding guarantee of the real
// sealer and exists purely so internal/secureconfig's key-lifecycle tests
// run on non-Windows machines.
type FakeSecretSealer struct{}

// NewSecretSealer returns the portable stand-in sealer.
func NewSecretSealer() FakeSecretSealer { return FakeSecretSealer{} }

func (FakeSecretSealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (FakeSecretSealer) Unseal(sealed []byte) ([]byte, error) {
	out := make([]byte, len(sealed))
	copy(out, sealed)
	return out, nil
}

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

//go:build windows

package platform

import (
	"unsafe"

	"cirello.io/servy/internal/servyerr"
	"golang.org/x/sys/windows"
)

var (
	modcrypt32            = windows.NewLazySystemDLL("crypt32.dll")
	modkernel32           = windows.NewLazySystemDLL("kernel32.dll")
	procCryptProtectData   = modcrypt32.NewProc("CryptProtectData")
	procCryptUnprotectData = modcrypt32.NewProc("CryptUnprotectData")
	procLocalFree          = modkernel32.NewProc("LocalFree")
)

type dataBlob struct {
	cbData uint32
	pbData *byte
}

func newBlob(b []byte) dataBlob {
	if len(b) == 0 {
		return dataBlob{}
	}
	return dataBlob{cbData: uint32(len(b)), pbData: &b[0]}
}

// WindowsSecretSealer binds secrets to the local machine via DPAPI's
// CryptProtectData/CryptUnprotectData with no entropy and no user scope, so
// the sealed bytes unseal only on the machine that sealed them (the "sealed
// secret" of the glossary).
type WindowsSecretSealer struct{}

// NewSecretSealer returns the DPAPI-backed sealer.
func NewSecretSealer() WindowsSecretSealer { return WindowsSecretSealer{} }

func (WindowsSecretSealer) Seal(plaintext []byte) ([]byte, error) {
	const op = "platform.Seal"
	in := newBlob(plaintext)
	var out dataBlob
	r, _, err := procCryptProtectData.Call(
		uintptr(unsafe.Pointer(&in)),
		0, 0, 0, 0,
		windows.CRYPTPROTECT_LOCAL_MACHINE,
		uintptr(unsafe.Pointer(&out)),
	)
	if r == 0 {
		return nil, servyerr.New(servyerr.CryptoFailure, op, err)
	}
	defer procLocalFree.Call(uintptr(unsafe.Pointer(out.pbData)))
	return blobBytes(out), nil
}

func (WindowsSecretSealer) Unseal(sealed []byte) ([]byte, error) {
	const op = "platform.Unseal"
	in := newBlob(sealed)
	var out dataBlob
	r, _, err := procCryptUnprotectData.Call(
		uintptr(unsafe.Pointer(&in)),
		0, 0, 0, 0,
		windows.CRYPTPROTECT_LOCAL_MACHINE,
		uintptr(unsafe.Pointer(&out)),
	)
	if r == 0 {
		return nil, servyerr.New(servyerr.CryptoFailure, op, err)
	}
	defer procLocalFree.Call(uintptr(unsafe.Pointer(out.pbData)))
	return blobBytes(out), nil
}

func blobBytes(b dataBlob) []byte {
	if b.cbData == 0 || b.pbData == nil {
		return nil
	}
	out := make([]byte, b.cbData)
	copy(out, unsafe.Slice(b.pbData, b.cbData))
	return out
}

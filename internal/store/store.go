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

// Package store implements the service configuration store: a bbolt-backed
// keyed table of servydef.Definition records, with the password field
// encrypted at the persistence boundary, per §4.D.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
	"go.etcd.io/bbolt"

	"cirello.io/servy/internal/secureconfig"
	"cirello.io/servy/internal/servydef"
	"cirello.io/servy/internal/servyerr"
)

var (
	bucketDefinitions = []byte("definitions")
	bucketNameIndex   = []byte("name_index")
)

// Store is the bbolt-backed configuration store. Definitions are keyed by
// an auto-incrementing id; a secondary bucket indexes lower-cased name to
// id for the case-insensitive uniqueness and lookup rules of §3/§4.D.
type Store struct {
	db     *bbolt.DB
	engine *secureconfig.Engine
}

// Open opens (creating if absent) the bbolt database at path and ensures
// both buckets exist.
func Open(path string, engine *secureconfig.Engine) (*Store, error) {
	const op = "store.Open"
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, servyerr.New(servyerr.IoFailure, op, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDefinitions); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketNameIndex); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, servyerr.New(servyerr.IoFailure, op, err)
	}
	return &Store{db: db, engine: engine}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func idFromKey(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

// encryptForStorage returns a copy of def with Password encrypted, leaving
// def untouched. An empty password is stored empty, never encrypted (empty
// plaintext is rejected by the secure-data engine).
func (s *Store) encryptForStorage(def servydef.Definition) (servydef.Definition, error) {
	if def.Password == "" {
		return def, nil
	}
	ct, err := s.engine.Encrypt(def.Password)
	if err != nil {
		return def, err
	}
	def.Password = ct
	def.PasswordVersion = "v2"
	return def, nil
}

func (s *Store) decryptForRead(def servydef.Definition) servydef.Definition {
	if def.Password == "" {
		return def
	}
	switch {
	case strings.HasPrefix(def.Password, "SERVY_ENC:v2:"):
		def.PasswordVersion = "v2"
	case strings.HasPrefix(def.Password, "SERVY_ENC:"):
		def.PasswordVersion = "v1"
	}
	def.Password = s.engine.Decrypt(def.Password)
	return def
}

// Add inserts def, assigning its id. Fails AlreadyExists on a
// case-insensitive name collision.
func (s *Store) Add(ctx context.Context, def servydef.Definition) (int64, error) {
	const op = "store.Add"
	if err := ctx.Err(); err != nil {
		return 0, servyerr.New(servyerr.Cancelled, op, err)
	}
	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketNameIndex)
		key := []byte(def.NameKey())
		if names.Get(key) != nil {
			return servyerr.New(servyerr.AlreadyExists, op, fmt.Errorf("service %q already exists", def.Name))
		}

		defs := tx.Bucket(bucketDefinitions)
		seq, err := defs.NextSequence()
		if err != nil {
			return err
		}
		def.ID = int64(seq)
		id = def.ID

		enc, err := s.encryptForStorage(def)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(enc)
		if err != nil {
			return err
		}
		if err := defs.Put(idKey(id), raw); err != nil {
			return err
		}
		return names.Put(key, idKey(id))
	})
	if err != nil {
		if se, ok := err.(*servyerr.Error); ok {
			return 0, se
		}
		return 0, servyerr.New(servyerr.IoFailure, op, err)
	}
	return id, nil
}

// Update replaces the record at def.ID. No-op (returns nil) if the id is
// absent.
func (s *Store) Update(ctx context.Context, def servydef.Definition) error {
	const op = "store.Update"
	if err := ctx.Err(); err != nil {
		return servyerr.New(servyerr.Cancelled, op, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		defs := tx.Bucket(bucketDefinitions)
		names := tx.Bucket(bucketNameIndex)

		existingRaw := defs.Get(idKey(def.ID))
		if existingRaw == nil {
			return nil
		}
		var existing servydef.Definition
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return servyerr.New(servyerr.IoFailure, op, err)
		}

		if existing.NameKey() != def.NameKey() {
			if names.Get([]byte(def.NameKey())) != nil {
				return servyerr.New(servyerr.AlreadyExists, op, fmt.Errorf("service %q already exists", def.Name))
			}
			if err := names.Delete([]byte(existing.NameKey())); err != nil {
				return err
			}
			if err := names.Put([]byte(def.NameKey()), idKey(def.ID)); err != nil {
				return err
			}
		}

		enc, err := s.encryptForStorage(def)
		if err != nil {
			return servyerr.New(servyerr.CryptoFailure, op, err)
		}
		raw, err := json.Marshal(enc)
		if err != nil {
			return err
		}
		return defs.Put(idKey(def.ID), raw)
	})
}

// UpsertByName inserts def if no record with its name exists, else updates
// the existing record in place (preserving its id).
func (s *Store) UpsertByName(ctx context.Context, def servydef.Definition) (int64, error) {
	const op = "store.UpsertByName"
	if err := ctx.Err(); err != nil {
		return 0, servyerr.New(servyerr.Cancelled, op, err)
	}
	existing, err := s.GetByName(ctx, def.Name)
	if err != nil && servyerr.KindOf(err) != servyerr.NotFound {
		return 0, err
	}
	if existing != nil {
		def.ID = existing.ID
		if err := s.Update(ctx, def); err != nil {
			return 0, err
		}
		return def.ID, nil
	}
	return s.Add(ctx, def)
}

// DeleteByID removes the record with the given id, if present.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	const op = "store.DeleteByID"
	if err := ctx.Err(); err != nil {
		return servyerr.New(servyerr.Cancelled, op, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		defs := tx.Bucket(bucketDefinitions)
		names := tx.Bucket(bucketNameIndex)
		raw := defs.Get(idKey(id))
		if raw == nil {
			return nil
		}
		var def servydef.Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			return err
		}
		if err := names.Delete([]byte(def.NameKey())); err != nil {
			return err
		}
		return defs.Delete(idKey(id))
	})
}

// DeleteByName removes the record with the given name, if present.
func (s *Store) DeleteByName(ctx context.Context, name string) error {
	const op = "store.DeleteByName"
	if err := ctx.Err(); err != nil {
		return servyerr.New(servyerr.Cancelled, op, err)
	}
	def, err := s.GetByName(ctx, name)
	if err != nil {
		if servyerr.KindOf(err) == servyerr.NotFound {
			return nil
		}
		return err
	}
	return s.DeleteByID(ctx, def.ID)
}

// GetByID returns the record with the given id, decrypting its password.
func (s *Store) GetByID(ctx context.Context, id int64) (*servydef.Definition, error) {
	const op = "store.GetByID"
	if err := ctx.Err(); err != nil {
		return nil, servyerr.New(servyerr.Cancelled, op, err)
	}
	var def servydef.Definition
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDefinitions).Get(idKey(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &def)
	})
	if err != nil {
		return nil, servyerr.New(servyerr.IoFailure, op, err)
	}
	if !found {
		return nil, servyerr.New(servyerr.NotFound, op, fmt.Errorf("no service with id %d", id))
	}
	def = s.decryptForRead(def)
	return &def, nil
}

// GetByName returns the record with the given (case-insensitive) name.
func (s *Store) GetByName(ctx context.Context, name string) (*servydef.Definition, error) {
	const op = "store.GetByName"
	if err := ctx.Err(); err != nil {
		return nil, servyerr.New(servyerr.Cancelled, op, err)
	}
	key := strings.ToLower(name)
	var id int64
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		idRaw := tx.Bucket(bucketNameIndex).Get([]byte(key))
		if idRaw == nil {
			return nil
		}
		found = true
		id = idFromKey(idRaw)
		return nil
	})
	if err != nil {
		return nil, servyerr.New(servyerr.IoFailure, op, err)
	}
	if !found {
		return nil, servyerr.New(servyerr.NotFound, op, fmt.Errorf("no service named %q", name))
	}
	return s.GetByID(ctx, id)
}

// ListAll returns every record, ordered by name, with passwords decrypted.
func (s *Store) ListAll(ctx context.Context) ([]servydef.Definition, error) {
	const op = "store.ListAll"
	var out []servydef.Definition
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDefinitions).ForEach(func(_, raw []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var def servydef.Definition
			if err := json.Unmarshal(raw, &def); err != nil {
				return err
			}
			out = append(out, s.decryptForRead(def))
			return nil
		})
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, servyerr.New(servyerr.Cancelled, op, err)
		}
		return nil, servyerr.New(servyerr.IoFailure, op, err)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Search returns every record whose name or description contains substring
// (case-insensitive), ordered by name.
func (s *Store) Search(ctx context.Context, substring string) ([]servydef.Definition, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(substring)
	var out []servydef.Definition
	for _, def := range all {
		if strings.Contains(strings.ToLower(def.Name), needle) || strings.Contains(strings.ToLower(def.Description), needle) {
			out = append(out, def)
		}
	}
	return out, nil
}

// ExportXML renders the named record as an XML document whose root element
// is the record type.
func (s *Store) ExportXML(ctx context.Context, name string) (string, error) {
	def, err := s.GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	raw, err := xml.MarshalIndent(def, "", "  ")
	if err != nil {
		return "", servyerr.New(servyerr.IoFailure, "store.ExportXML", err)
	}
	return xml.Header + string(raw), nil
}

// ExportJSON renders the named record as pretty-printed JSON.
func (s *Store) ExportJSON(ctx context.Context, name string) (string, error) {
	def, err := s.GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return "", servyerr.New(servyerr.IoFailure, "store.ExportJSON", err)
	}
	return string(raw), nil
}

// ImportXML parses text as a Definition, fills documented defaults, and
// upserts it by name. Any failure (parse, shape, validation) returns false
// silently rather than raising, per §4.D.
func (s *Store) ImportXML(ctx context.Context, text string) bool {
	var def servydef.Definition
	if err := xml.Unmarshal([]byte(text), &def); err != nil {
		return false
	}
	return s.importDefinition(ctx, def)
}

// ImportJSON parses text as a Definition, fills documented defaults, and
// upserts it by name. Any failure returns false silently.
func (s *Store) ImportJSON(ctx context.Context, text string) bool {
	var def servydef.Definition
	if err := json.Unmarshal([]byte(text), &def); err != nil {
		return false
	}
	return s.importDefinition(ctx, def)
}

// importDefaults is the §3-documented set of optional-field defaults,
// filled into an imported record wherever mergo finds a zero value.
//
// MaxRestartAttempts is deliberately left out of this template: it is a
// *int, and mergo only fills it from importDefaults when the imported
// document left it nil (field absent), never when it was explicitly 0 —
// that 0/nil distinction is exactly what ApplyDefaults also relies on, so
// the two defaulting passes agree on what "absent" means.
var importDefaults = servydef.Definition{
	Priority:                 servydef.PriorityNormal,
	StartupType:              servydef.StartupAutomatic,
	HeartbeatIntervalSeconds: servydef.DefaultHeartbeatIntervalSeconds,
	MaxFailedChecks:          servydef.DefaultMaxFailedChecks,
	RecoveryActionValue:      servydef.RecoveryNone,
	PreLaunchTimeoutSeconds:  servydef.DefaultPreLaunchTimeoutSeconds,
}

func (s *Store) importDefinition(ctx context.Context, def servydef.Definition) bool {
	if err := mergo.Merge(&def, importDefaults); err != nil {
		return false
	}
	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return false
	}
	if _, err := s.UpsertByName(ctx, def); err != nil {
		return false
	}
	return true
}

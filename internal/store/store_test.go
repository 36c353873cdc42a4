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

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.etcd.io/bbolt"

	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/secureconfig"
	"cirello.io/servy/internal/servydef"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	engine, err := secureconfig.Open(platform.FakeSecretSealer{}, filepath.Join(dir, "key.bin"), filepath.Join(dir, "iv.bin"), nil, "test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)
	s, err := Open(filepath.Join(dir, "servy.db"), engine)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDefinition(name string) servydef.Definition {
	return servydef.Definition{
		Name:             name,
		Description:      "a test service",
		ExecutablePath:   `C:\svc\app.exe`,
		Priority:         servydef.PriorityNormal,
		StartupType:      servydef.StartupAutomatic,
		RunAsLocalSystem: true,
	}
}

func TestAdd_DuplicateNameRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, sampleDefinition("worker")); err != nil {
		t.Fatal(err)
	}
	_, err := s.Add(ctx, sampleDefinition("WORKER"))
	if err == nil {
		t.Fatal("expected AlreadyExists error for case-insensitive duplicate")
	}
}

func TestAdd_GetByID_GetByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, sampleDefinition("worker"))
	if err != nil {
		t.Fatal(err)
	}

	byID, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if byID.Name != "worker" {
		t.Fatalf("got name %q", byID.Name)
	}

	byName, err := s.GetByName(ctx, "WORKER")
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != id {
		t.Fatalf("GetByName id = %d, want %d", byName.ID, id)
	}
}

func TestPassword_EncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def := sampleDefinition("worker")
	def.RunAsLocalSystem = false
	def.UserAccount = "DOMAIN\\svc"
	def.Password = "s3cr3t"

	id, err := s.Add(ctx, def)
	if err != nil {
		t.Fatal(err)
	}

	var stored []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		stored = append([]byte(nil), tx.Bucket(bucketDefinitions).Get(idKey(id))...)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(stored), "s3cr3t") || !strings.Contains(string(stored), "SERVY_ENC:v2:") {
		t.Fatalf("stored record does not hold a v2-encrypted password: %s", stored)
	}

	got, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Password != "s3cr3t" {
		t.Fatalf("decrypted password = %q, want %q", got.Password, "s3cr3t")
	}
}

func TestUpdate_NoOpWhenIDAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := sampleDefinition("ghost")
	def.ID = 9999
	if err := s.Update(ctx, def); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
	if _, err := s.GetByID(ctx, 9999); err == nil {
		t.Fatal("expected NotFound, update should not have created a record")
	}
}

func TestUpsertByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertByName(ctx, sampleDefinition("worker"))
	if err != nil {
		t.Fatal(err)
	}
	def := sampleDefinition("worker")
	def.Description = "updated"
	id2, err := s.UpsertByName(ctx, def)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("upsert changed id: %d != %d", id1, id2)
	}
	got, err := s.GetByID(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "updated" {
		t.Fatalf("description = %q, want updated", got.Description)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Add(ctx, sampleDefinition("alpha-worker"))
	s.Add(ctx, sampleDefinition("beta-worker"))
	d := sampleDefinition("gamma")
	d.Description = "contains WORKER in description"
	s.Add(ctx, d)

	results, err := s.Search(ctx, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if strings.ToLower(results[i-1].Name) > strings.ToLower(results[i].Name) {
			t.Fatalf("results not ordered by name: %v", results)
		}
	}
}

func TestExportImport_JSON_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Add(ctx, sampleDefinition("worker"))

	text, err := s.ExportJSON(ctx, "worker")
	if err != nil {
		t.Fatal(err)
	}

	s2 := openTestStore(t)
	if ok := s2.ImportJSON(ctx, text); !ok {
		t.Fatal("import failed")
	}
	got, err := s2.GetByName(ctx, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutablePath != `C:\svc\app.exe` {
		t.Fatalf("got %q", got.ExecutablePath)
	}
}

func TestImportJSON_InvalidShapeReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	if ok := s.ImportJSON(context.Background(), "{not json"); ok {
		t.Fatal("expected false for malformed input")
	}
}

func TestImportJSON_FillsDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	text := `{"name":"worker","executable_path":"C:\\app.exe","run_as_local_system":true}`
	if ok := s.ImportJSON(ctx, text); !ok {
		t.Fatal("import failed")
	}
	got, err := s.GetByName(ctx, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != servydef.PriorityNormal {
		t.Fatalf("priority default not applied: %q", got.Priority)
	}
	if got.StartupType != servydef.StartupAutomatic {
		t.Fatalf("startup type default not applied: %q", got.StartupType)
	}
}

func TestDeleteByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Add(ctx, sampleDefinition("worker"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteByID(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetByID(ctx, id); err == nil {
		t.Fatal("expected NotFound after delete")
	}
	// Name should be free again.
	if _, err := s.Add(ctx, sampleDefinition("worker")); err != nil {
		t.Fatalf("name not freed after delete: %v", err)
	}
}

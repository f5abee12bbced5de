package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/uuid"
)

func v1Doc() map[string]any {
	return map[string]any{
		"version": 1,
		"title":   "login works",
		"result":  "passed",
	}
}

func TestValidateUnsupportedVersion(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	_, err := reg.Validate(map[string]any{"version": 99, "title": "x"}, 99)
	var uv *UnsupportedVersionError
	if !errors.As(err, &uv) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
	if uv.Version != 99 {
		t.Errorf("expected version 99, got %d", uv.Version)
	}
	if !slices.Equal(uv.Supported, []int{1, 2}) {
		t.Errorf("supported = %v", uv.Supported)
	}
}

func TestValidateDeclaredUnsupportedVersion(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	_, err := reg.ValidateDeclared(map[string]any{"version": 99.0})
	var uv *UnsupportedVersionError
	if !errors.As(err, &uv) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
}

func TestValidateV1MissingTitle(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	doc := v1Doc()
	delete(doc, "title")

	_, err := reg.Validate(doc, TestV1)
	var sv *SchemaValidationError
	if !errors.As(err, &sv) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if !slices.Contains(sv.Fields, "title") {
		t.Errorf("expected fields to name title, got %v", sv.Fields)
	}
}

func TestValidateV1TitleFromEnv(t *testing.T) {
	reg := TestRegistry(WithEnvMap(map[string]string{
		"RECORD_REPLAY_METADATA_TEST_TITLE": "from env",
	}))
	doc := v1Doc()
	delete(doc, "title")

	got, err := reg.Validate(doc, TestV1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Data["title"] != "from env" {
		t.Errorf("title = %v", got.Data["title"])
	}
}

func TestValidateV1Defaults(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	got, err := reg.Validate(v1Doc(), TestV1)
	if err != nil {
		t.Fatal(err)
	}

	run, ok := got.Data["run"].(map[string]any)
	if !ok {
		t.Fatalf("run not defaulted: %v", got.Data)
	}
	id, _ := run["id"].(string)
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("run id %q is not a uuid: %v", id, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected v4 uuid, got v%d", parsed.Version())
	}
	if errs, ok := got.Data["reporterErrors"].([]any); !ok || len(errs) != 0 {
		t.Errorf("reporterErrors = %v", got.Data["reporterErrors"])
	}
}

func TestRunIDPrecedence(t *testing.T) {
	const (
		first  = "2f6e2c8e-8c1d-4f0b-9a55-0d1c8a3f7b21"
		second = "7c1e4b1a-3d2f-4e6a-8b9c-1a2b3c4d5e6f"
	)
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"first wins", map[string]string{"REPLAY_METADATA_TEST_RUN_ID": first, "RECORD_REPLAY_TEST_RUN_ID": second}, first},
		{"empty skipped", map[string]string{"REPLAY_METADATA_TEST_RUN_ID": "", "RECORD_REPLAY_TEST_RUN_ID": second}, second},
		{"generated", nil, "generated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := TestRegistry(WithEnvMap(tt.env), WithIDGenerator(func() string {
				return "3d8f1c0a-1b2c-4d3e-9f40-5a6b7c8d9e0f"
			}))
			got, err := reg.Validate(v1Doc(), TestV1)
			if err != nil {
				t.Fatal(err)
			}
			id := got.Data["run"].(map[string]any)["id"]
			want := tt.want
			if want == "generated" {
				want = "3d8f1c0a-1b2c-4d3e-9f40-5a6b7c8d9e0f"
			}
			if id != want {
				t.Errorf("run id = %v, want %s", id, want)
			}
		})
	}
}

func TestRunIDMustBeUUIDv4(t *testing.T) {
	reg := TestRegistry(WithEnvMap(map[string]string{"REPLAY_METADATA_TEST_RUN_ID": "not-a-uuid"}))
	_, err := reg.Validate(v1Doc(), TestV1)
	var sv *SchemaValidationError
	if !errors.As(err, &sv) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if !slices.Contains(sv.Fields, "run.id") {
		t.Errorf("expected run.id in fields, got %v", sv.Fields)
	}
}

func TestValidateDoesNotShareInput(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	in := v1Doc()
	in["run"] = map[string]any{"title": "nightly"}

	got, err := reg.Validate(in, TestV1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := in["run"].(map[string]any)["id"]; ok {
		t.Error("defaults leaked into the caller's document")
	}
	got.Data["run"].(map[string]any)["title"] = "changed"
	if in["run"].(map[string]any)["title"] != "nightly" {
		t.Error("result aliases the caller's document")
	}
}

func v2Doc() map[string]any {
	return map[string]any{
		"schemaVersion": "2.1.0",
		"source":        map[string]any{"title": "login.spec.ts", "path": "tests/login.spec.ts"},
		"result":        "failed",
		"resultCounts":  map[string]any{"failed": 1, "passed": 0, "skipped": 0},
		"environment": map[string]any{
			"pluginVersion": "1.0.0",
			"testRunner":    map[string]any{"name": "playwright", "version": "1.40.0"},
		},
		"tests": []any{
			map[string]any{
				"executionGroupId": "g1",
				"executionId":      "e1",
				"attempt":          1,
				"maxAttempts":      1,
				"result":           "failed",
				"source":           map[string]any{"title": "logs in", "scope": []any{"auth"}},
				"events": map[string]any{
					"main": []any{
						map[string]any{"data": map[string]any{
							"id":       "ev-1",
							"parentId": nil,
							"category": "command",
							"command":  map[string]any{"name": "click", "arguments": []any{"#submit"}},
							"scope":    nil,
							"error":    nil,
							"result":   nil,
						}},
					},
				},
			},
		},
	}
}

func TestValidateV2Defaults(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	got, err := reg.ValidateDeclared(v2Doc())
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != TestV2 {
		t.Errorf("version = %d", got.Version)
	}
	test := got.Data["tests"].([]any)[0].(map[string]any)
	events := test["events"].(map[string]any)
	for _, bucket := range []string{"beforeAll", "beforeEach", "afterEach", "afterAll"} {
		if l, ok := events[bucket].([]any); !ok || len(l) != 0 {
			t.Errorf("bucket %s = %v", bucket, events[bucket])
		}
	}
	if v, ok := test["error"]; !ok || v != nil {
		t.Errorf("error default = %v (present %v)", v, ok)
	}
}

func TestValidateV2BadCategory(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	doc := v2Doc()
	ev := doc["tests"].([]any)[0].(map[string]any)["events"].(map[string]any)["main"].([]any)[0]
	ev.(map[string]any)["data"].(map[string]any)["category"] = "bogus"

	_, err := reg.Validate(doc, TestV2)
	var sv *SchemaValidationError
	if !errors.As(err, &sv) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	want := "tests.0.events.main.0.data.category"
	if !slices.Contains(sv.Fields, want) {
		t.Errorf("expected %s in %v", want, sv.Fields)
	}
}

func TestV1DocumentIsNotV2(t *testing.T) {
	reg := TestRegistry(WithEnvMap(nil))
	if _, err := reg.Validate(v1Doc(), TestV2); err == nil {
		t.Fatal("v1 document validated as v2")
	}
}

func TestDeclaredVersion(t *testing.T) {
	tests := []struct {
		doc     map[string]any
		want    int
		wantErr bool
	}{
		{map[string]any{"version": 1.0}, 1, false},
		{map[string]any{"version": 2}, 2, false},
		{map[string]any{"schemaVersion": "2.0.0"}, 2, false},
		{map[string]any{"version": 1.5}, 0, true},
		{map[string]any{"version": 1e300}, 0, true},
		{map[string]any{"version": -1e300}, 0, true},
		{map[string]any{"version": int64(1) << 40}, 0, true},
		{map[string]any{"schemaVersion": "x.y"}, 0, true},
		{map[string]any{}, 0, true},
	}
	for _, tt := range tests {
		got, err := DeclaredVersion(tt.doc)
		if (err != nil) != tt.wantErr {
			t.Errorf("DeclaredVersion(%v) error = %v", tt.doc, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DeclaredVersion(%v) = %d, want %d", tt.doc, got, tt.want)
		}
	}
}

func TestSourceRegistryFromCI(t *testing.T) {
	reg := SourceRegistry(WithEnvMap(map[string]string{
		"GITHUB_SHA":        "abc123",
		"GITHUB_REF_NAME":   "main",
		"GITHUB_REPOSITORY": "acme/app",
	}))
	got, err := reg.Validate(map[string]any{}, SourceV1)
	if err != nil {
		t.Fatal(err)
	}
	if id := got.Data["commit"].(map[string]any)["id"]; id != "abc123" {
		t.Errorf("commit.id = %v", id)
	}
	if got.Data["branch"] != "main" || got.Data["repository"] != "acme/app" {
		t.Errorf("unexpected source metadata %v", got.Data)
	}
	if _, ok := got.Data["merge"]; ok {
		t.Error("merge created without any merge env")
	}
}

func TestSourceRegistryRequiresCommit(t *testing.T) {
	reg := SourceRegistry(WithEnvMap(nil))
	_, err := reg.Validate(map[string]any{}, SourceV1)
	var sv *SchemaValidationError
	if !errors.As(err, &sv) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if !slices.Contains(sv.Fields, "commit") {
		t.Errorf("expected commit in %v", sv.Fields)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.yaml")
	content := "version: 1\ntitle: from yaml\nresult: passed\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := TestRegistry(WithEnvMap(nil)).ValidateDeclared(doc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Data["title"] != "from yaml" {
		t.Errorf("title = %v", got.Data["title"])
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.toml")
	content := "version = 1\nbranch = \"main\"\n\n[commit]\nid = \"4f1c2d9\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := SourceRegistry(WithEnvMap(nil)).ValidateDeclared(doc)
	if err != nil {
		t.Fatal(err)
	}
	commit, _ := got.Data["commit"].(map[string]any)
	if commit["id"] != "4f1c2d9" || got.Data["branch"] != "main" {
		t.Errorf("unexpected document %v", got.Data)
	}
}

func TestLoadRejectsEmptyAndBadFiles(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"empty.json": "null",
		"bad.yaml":   "version: [1",
		"bad.toml":   "version = ",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSections(t *testing.T) {
	regs := map[string]*Registry{"test": TestRegistry(WithEnvMap(nil))}
	out, errs := Sections(map[string]any{
		"uri":  "http://localhost:3000",
		"test": map[string]any{"version": 1},
	}, regs)
	if out["uri"] != "http://localhost:3000" {
		t.Error("unknown key dropped")
	}
	if _, ok := out["test"]; ok {
		t.Error("invalid section kept")
	}
	if errs["test"] == nil {
		t.Error("expected an error for the test section")
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count must be non-negative")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadKeepsDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := writeConfig(t, "name: ${SAMPLE_NAME}\n")

	s := sample{Name: "default", Count: 7}
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-env" || s.Count != 7 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeConfig(t, "name: x\ncuont: 3\n")
	var s sample
	if err := Load(p, &s); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	p := writeConfig(t, "count: -1\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	p := writeConfig(t, "")
	s := sample{Name: "keep"}
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "keep" {
		t.Errorf("name = %q", s.Name)
	}
}

func TestLoadWithDefaultsMissingFile(t *testing.T) {
	s := sample{Name: "default"}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"), &s); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if s.Name != "default" {
		t.Errorf("name = %q", s.Name)
	}

	bad := sample{Count: -5}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"), &bad); err == nil {
		t.Error("defaults should still be validated")
	}
}

package configparser

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "axpcore.cfg")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFileDispatchesSectionValues(t *testing.T) {
	path := writeTempConfig(t, `
# leading comment
[System]
MemorySize = 8
Processor-Count = 4
JIT = true

[Cache-L1Data]
numSets = 256
associativity = 2
coherencyProtocol = MESI
`)

	var system, l1d map[string]string
	p := New()
	p.Register("System", func(v map[string]string) error {
		system = v
		return nil
	})
	p.Register("Cache-L1Data", func(v map[string]string) error {
		l1d = v
		return nil
	})

	if err := p.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if system["MemorySize"] != "8" || system["Processor-Count"] != "4" || system["JIT"] != "true" {
		t.Fatalf("System section = %+v", system)
	}
	if l1d["numSets"] != "256" || l1d["coherencyProtocol"] != "MESI" {
		t.Fatalf("Cache-L1Data section = %+v", l1d)
	}
}

func TestLoadFileRejectsUnregisteredSection(t *testing.T) {
	path := writeTempConfig(t, "[Unknown]\nfoo = bar\n")

	p := New()
	if err := p.LoadFile(path); err == nil {
		t.Fatal("expected an error for an unregistered section")
	}
}

func TestLoadFileSupportsQuotedValues(t *testing.T) {
	path := writeTempConfig(t, `[System]
Coherency-Cache = "MESI with notes"
`)
	var got map[string]string
	p := New()
	p.Register("System", func(v map[string]string) error {
		got = v
		return nil
	})
	if err := p.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got["Coherency-Cache"] != "MESI with notes" {
		t.Fatalf("Coherency-Cache = %q", got["Coherency-Cache"])
	}
}

func TestLoadFileReportsMissingEquals(t *testing.T) {
	path := writeTempConfig(t, "[System]\nMemorySize 8\n")

	p := New()
	p.Register("System", func(v map[string]string) error { return nil })
	if err := p.LoadFile(path); err == nil {
		t.Fatal("expected an error for a key missing '='")
	}
}

package debugconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rcornwell/axpcore/config/configparser"
	"github.com/rcornwell/axpcore/util/debug"
)

func TestApplyEnablesTrace(t *testing.T) {
	debug.SetTrace(false)
	t.Cleanup(func() { debug.SetTrace(false) })

	if err := apply(map[string]string{"Trace": "true"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !debug.TraceEnabled() {
		t.Fatal("expected trace to be enabled")
	}
}

func TestApplyDisablesTrace(t *testing.T) {
	debug.SetTrace(true)
	t.Cleanup(func() { debug.SetTrace(false) })

	if err := apply(map[string]string{"Trace": "false"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if debug.TraceEnabled() {
		t.Fatal("expected trace to be disabled")
	}
}

func TestApplyWithoutTraceKeyIsNoop(t *testing.T) {
	debug.SetTrace(true)
	t.Cleanup(func() { debug.SetTrace(false) })

	if err := apply(map[string]string{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !debug.TraceEnabled() {
		t.Fatal("absent Trace key should leave existing state untouched")
	}
}

func TestApplyRejectsInvalidBool(t *testing.T) {
	if err := apply(map[string]string{"Trace": "sort-of"}); err == nil {
		t.Fatal("expected an error for a non-boolean Trace value")
	}
}

func TestRegisterWiresSectionIntoParser(t *testing.T) {
	debug.SetTrace(false)
	t.Cleanup(func() { debug.SetTrace(false) })

	p := configparser.New()
	Register(p)

	dir := t.TempDir()
	path := filepath.Join(dir, "axpcore.cfg")
	if err := os.WriteFile(path, []byte("[Debug]\nTrace = true\n"), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if err := p.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !debug.TraceEnabled() {
		t.Fatal("expected [Debug] section to enable trace")
	}
}

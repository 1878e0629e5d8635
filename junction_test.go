package pfs

import "testing"

func TestIsEqualFold(t *testing.T) {
	if !isEqualFold("Sce_Sys/Keystone", "sce_sys/keystone") {
		t.Error("expected case-insensitive match")
	}
	if isEqualFold("a", "b") {
		t.Error("expected mismatch")
	}
}

func TestBindJunctionsMatchesCaseObfuscatedPaths(t *testing.T) {
	logical := []string{"sce_sys/param.sfo", "eboot.bin", "data/save.bin"}
	real := []string{"SCE_SYS/PARAM.SFO", "EBOOT.BIN", "DATA/SAVE.BIN"}

	bindings, extra, err := bindJunctions(logical, real)
	if err != nil {
		t.Fatalf("bindJunctions: %v", err)
	}
	if extra != 0 {
		t.Errorf("expected 0 extra real paths, got %d", extra)
	}
	if len(bindings) != 3 {
		t.Fatalf("expected 3 bindings, got %d", len(bindings))
	}
	j, ok := bindings["eboot.bin"]
	if !ok {
		t.Fatal("missing binding for eboot.bin")
	}
	if j.RealPath != "EBOOT.BIN" {
		t.Errorf("RealPath = %q, want EBOOT.BIN", j.RealPath)
	}
}

func TestBindJunctionsReportsExtraRealFiles(t *testing.T) {
	logical := []string{"eboot.bin"}
	real := []string{"EBOOT.BIN", "leftover.tmp"}

	bindings, extra, err := bindJunctions(logical, real)
	if err != nil {
		t.Fatalf("bindJunctions: %v", err)
	}
	if extra != 1 {
		t.Errorf("expected 1 extra real path, got %d", extra)
	}
	if len(bindings) != 1 {
		t.Errorf("expected 1 binding, got %d", len(bindings))
	}
}

func TestBindJunctionsFailsOnUnresolvedLogicalPath(t *testing.T) {
	logical := []string{"missing.bin"}
	real := []string{"EBOOT.BIN"}

	if _, _, err := bindJunctions(logical, real); !IsPathUnresolved(err) {
		t.Errorf("expected PathUnresolved, got %v", err)
	}
}

func TestBindJunctionsFailsOnAmbiguousRealPaths(t *testing.T) {
	logical := []string{"eboot.bin"}
	real := []string{"EBOOT.BIN", "eboot.bin"}

	if _, _, err := bindJunctions(logical, real); err == nil {
		t.Error("expected an error for two real paths colliding under case-fold")
	}
}

func TestContainsKeystone(t *testing.T) {
	if containsKeystone(nil) {
		t.Error("nil entries should not contain a keystone")
	}
}

package daemon

import (
	"strings"
	"testing"
)

func TestIsChild(t *testing.T) {
	t.Setenv(EnvMarker, "")
	if IsChild() {
		t.Error("IsChild() = true without marker")
	}

	t.Setenv(EnvMarker, "1")
	if !IsChild() {
		t.Error("IsChild() = false with marker")
	}
}

func TestChildEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		EnvMarker + "=0",
		"HOME=/root",
		EnvMarker + "=1",
	}

	env := childEnv(environ)

	var markers int
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvMarker+"=") {
			markers++
			if kv != EnvMarker+"=1" {
				t.Errorf("marker = %q, want %s=1", kv, EnvMarker)
			}
		}
	}
	if markers != 1 {
		t.Errorf("found %d markers, want 1", markers)
	}
	if len(env) != 3 {
		t.Errorf("len(env) = %d, want 3: %v", len(env), env)
	}
	if env[0] != "PATH=/usr/bin" || env[1] != "HOME=/root" {
		t.Errorf("env order changed: %v", env)
	}
}

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion != runtime.Version() {
		t.Fatalf("unexpected go version %q", info.GoVersion)
	}
	if !strings.HasPrefix(info.String(), info.GitVersion) {
		t.Fatalf("string should lead with version: %q", info.String())
	}
	js, err := info.JSON()
	if err != nil || !strings.Contains(js, `"gitCommit"`) {
		t.Fatalf("unexpected json %q %v", js, err)
	}
}

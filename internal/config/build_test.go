package config

import "testing"

func TestNewBuildInfo(t *testing.T) {
	orig := version
	t.Cleanup(func() { version = orig })
	version = "1.2.3"

	bi := NewBuildInfo()
	if bi.Version != "1.2.3" || bi.Commit != "none" || bi.BuildTime != "unknown" {
		t.Errorf("NewBuildInfo() = %+v", bi)
	}
}

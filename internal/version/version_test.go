package appversion_test

import (
	"strings"
	"testing"

	appversion "github.com/mptcpd/mptcpd/internal/version"
)

func TestFullIncludesAllFields(t *testing.T) {
	t.Parallel()

	out := appversion.Full("mptcpd")
	for _, want := range []string{"mptcpd", appversion.Version, appversion.GitCommit, appversion.BuildDate} {
		if !strings.Contains(out, want) {
			t.Errorf("Full() = %q, want it to contain %q", out, want)
		}
	}
}

func TestDefaultValues(t *testing.T) {
	t.Parallel()

	if appversion.Version == "" {
		t.Errorf("Version must not be empty")
	}
	if appversion.GitCommit == "" {
		t.Errorf("GitCommit must not be empty")
	}
	if appversion.BuildDate == "" {
		t.Errorf("BuildDate must not be empty")
	}
}

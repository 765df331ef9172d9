package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFilesSkipsMissingAndKeepsEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("CLICKTODIAL_TEST_TOKEN=from-file\nCLICKTODIAL_TEST_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("CLICKTODIAL_TEST_KEEP", "from-env")
	t.Setenv("CLICKTODIAL_TEST_TOKEN", "")
	os.Unsetenv("CLICKTODIAL_TEST_TOKEN")

	loadEnvFiles([]string{filepath.Join(dir, "missing.env"), envFile})

	if got := os.Getenv("CLICKTODIAL_TEST_TOKEN"); got != "from-file" {
		t.Fatalf("token = %q, want from-file", got)
	}
	if got := os.Getenv("CLICKTODIAL_TEST_KEEP"); got != "from-env" {
		t.Fatalf("keep = %q, want from-env", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"background", "tab", "popup"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}

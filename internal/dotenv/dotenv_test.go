package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local overrides\n" +
		"HAVEN_TEST_ADDR=:9090\n" +
		"HAVEN_TEST_QUOTED=\"streaming avatar\"\n" +
		"HAVEN_TEST_SINGLE='medium'\n" +
		"export HAVEN_TEST_EXPORTED=ok\n" +
		"HAVEN_TEST_EXISTING=from_file\n" +
		"not-a-pair\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("HAVEN_TEST_EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	for key, want := range map[string]string{
		"HAVEN_TEST_ADDR":     ":9090",
		"HAVEN_TEST_QUOTED":   "streaming avatar",
		"HAVEN_TEST_SINGLE":   "medium",
		"HAVEN_TEST_EXPORTED": "ok",
		"HAVEN_TEST_EXISTING": "already_set",
	} {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
	for _, key := range []string{"HAVEN_TEST_ADDR", "HAVEN_TEST_QUOTED", "HAVEN_TEST_SINGLE", "HAVEN_TEST_EXPORTED"} {
		os.Unsetenv(key)
	}
}

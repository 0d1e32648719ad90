package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
exports_dir = %q
data_dir = %q
enriched_dir = %q
state_dir = %q
log_dir = %q

[dataset]
path = %q

[logging]
format = "json"
level = "error"
`,
		filepath.Join(base, "exports"),
		filepath.Join(base, "data"),
		filepath.Join(base, "enriched"),
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "data", "dataset.csv"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "exports"), 0o755); err != nil {
		t.Fatalf("mkdir exports: %v", err)
	}

	return &cliTestEnv{baseDir: base, configPath: configPath}
}

func (env *cliTestEnv) writeExport(t *testing.T, name, body string) {
	t.Helper()
	path := filepath.Join(env.baseDir, "exports", name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}

const sampleExport = `[
	{"ts":"2023-06-15T14:30:00Z","ms_played":215000,
	 "master_metadata_track_name":"Song A","master_metadata_album_artist_name":"Artist"},
	{"ts":"2023-06-15T15:00:00Z","ms_played":5000,
	 "master_metadata_track_name":"Short Play","master_metadata_album_artist_name":"Artist"},
	{"ts":"2023-06-16T09:00:00Z","ms_played":1800000,
	 "episode_name":"Episode 1","episode_show_name":"Some Show"}
]`

func TestCLICombineAndClean(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeExport(t, "Streaming_History_Audio_2023.json", sampleExport)

	out, _, err := runCLI(t, env, "combine")
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	requireContains(t, out, "Combined 3 plays")

	out, _, err = runCLI(t, env, "clean")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	requireContains(t, out, "Cleaned 2 plays")
	requireContains(t, out, "1 dropped")
}

func TestCLIRunMergeOnly(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeExport(t, "Streaming_History_Audio_2023.json", sampleExport)

	out, _, err := runCLI(t, env, "run", "--merge-only")
	if err != nil {
		t.Fatalf("run --merge-only: %v", err)
	}
	requireContains(t, out, "Merged 2 rows")

	merged := filepath.Join(env.baseDir, "enriched", "final_enriched_streaming_history.csv")
	if _, err := os.Stat(merged); err != nil {
		t.Fatalf("merged output missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, "enriched", "final_enriched_streaming_history_song.csv")); err != nil {
		t.Fatalf("song subset missing: %v", err)
	}
}

func TestCLIStatusAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	env.writeExport(t, "Streaming_History_Audio_2023.json", sampleExport)

	if _, _, err := runCLI(t, env, "run", "--merge-only"); err != nil {
		t.Fatalf("run --merge-only: %v", err)
	}

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Distinct keys")
	requireContains(t, out, "Fetch progress")

	out, _, err = runCLI(t, env, "retry")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Reset 0 failed keys")
}

func TestCLIConfigInit(t *testing.T) {
	env := setupCLITestEnv(t)

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err := runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	// Refuses to clobber without --overwrite.
	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestCLIScheduleRejectsMissingCron(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "schedule"); err == nil {
		t.Fatal("expected error when no cron expression configured")
	}
}

package cli

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolversions/config"
)

// newTestRoot creates a fresh root command. Each test gets an isolated
// command tree to avoid shared state.
func newTestRoot() *cobra.Command {
	return NewRootCmd("test")
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestFile creates a temporary file with the given content and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// isolateEnv clears variables that would otherwise leak into config.Load.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvManifest, config.EnvMode, config.EnvIndexURL,
		config.EnvTimeout, config.EnvUserAgent, config.EnvOTLPEndpoint,
	} {
		t.Setenv(key, "")
	}
}

const jqFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:d="http://schemas.microsoft.com/ado/2007/08/dataservices" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <entry><m:properties><d:Version>1.7.1</d:Version></m:properties></entry>
</feed>`

// newIndexServer serves git=2.42.1, curl=404 and jq without a version over
// the package detail API, and jq=1.7.1 over the feed API.
func newIndexServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case r.URL.Path == "/api/v2/package/git":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Properties": {"version": "2.42.1"}}`)
		case r.URL.Path == "/api/v2/package/jq":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Properties": {}}`)
		case r.URL.Path == "/api/v2/Packages()" && r.URL.Query().Get("$filter") == "Id eq 'jq'":
			w.Header().Set("Content-Type", "application/atom+xml")
			_, _ = io.WriteString(w, jqFeed)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v (%T), want *ExitError", err, err)
	}
	return exitErr.Code
}

func TestUpdateRewritesManifest(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.40.0", "curl": "8.0.0", "jq": "1.6"}}`)

	stdout, _, err := executeCommand(newTestRoot(), "update", "--manifest", path, "--index-url", server.URL)
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, err = %v", code, err)
	}

	want := "{\n  \"tools\": {\n    \"git\": \"2.42.1\",\n    \"curl\": \"8.0.0\",\n    \"jq\": \"1.6\"\n  }\n}\n"
	if got := readTestFile(t, path); got != want {
		t.Fatalf("manifest = %q, want %q", got, want)
	}
	for _, line := range []string{
		"Updated git: 2.40.0 -> 2.42.1",
		"Error fetching data for curl: 404",
		"Version not found for jq",
		"Checked 3 tool(s): 1 updated, 2 failed",
	} {
		if !strings.Contains(stdout, line) {
			t.Errorf("stdout missing %q:\n%s", line, stdout)
		}
	}
}

func TestRootWithoutSubcommandUpdates(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.42.1"}}`)

	stdout, _, err := executeCommand(newTestRoot(), "--manifest", path, "--index-url", server.URL)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if !strings.Contains(stdout, "git is up to date (2.42.1)") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestUpdateFeedMode(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.yaml", "# pinned tools\ntools:\n  jq: \"1.6\"\n")

	_, _, err := executeCommand(newTestRoot(), "update", "-m", path, "--index-url", server.URL, "--mode", "feed")
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	got := readTestFile(t, path)
	if !strings.Contains(got, "jq: 1.7.1") && !strings.Contains(got, `jq: "1.7.1"`) {
		t.Fatalf("manifest = %q, want jq 1.7.1", got)
	}
	if !strings.HasPrefix(got, "# pinned tools") {
		t.Fatalf("manifest lost its comment: %q", got)
	}
}

func TestUpdateMalformedManifestMakesNoRequests(t *testing.T) {
	isolateEnv(t)
	server, requests := newIndexServer(t)
	const content = `{"tools": ["git"]}`
	path := writeTestFile(t, "tools.json", content)

	_, _, err := executeCommand(newTestRoot(), "update", "--manifest", path, "--index-url", server.URL)
	if code := exitCode(t, err); code != exitInputParse {
		t.Fatalf("exit code = %d, want %d (err=%v)", code, exitInputParse, err)
	}
	if n := requests.Load(); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
	if got := readTestFile(t, path); got != content {
		t.Fatalf("manifest modified: %q", got)
	}
}

func TestUpdateMissingManifest(t *testing.T) {
	isolateEnv(t)
	server, requests := newIndexServer(t)
	path := filepath.Join(t.TempDir(), "tools.json")

	_, _, err := executeCommand(newTestRoot(), "update", "--manifest", path, "--index-url", server.URL)
	if code := exitCode(t, err); code != exitFileNotFound {
		t.Fatalf("exit code = %d, want %d (err=%v)", code, exitFileNotFound, err)
	}
	if requests.Load() != 0 {
		t.Fatal("requests made for missing manifest")
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("manifest created: %v", statErr)
	}
}

func TestUpdateDryRun(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	const content = `{"tools": {"git": "2.40.0"}}`
	path := writeTestFile(t, "tools.json", content)

	stdout, _, err := executeCommand(newTestRoot(), "update", "--manifest", path, "--index-url", server.URL, "--dry-run")
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if got := readTestFile(t, path); got != content {
		t.Fatalf("manifest written in dry run: %q", got)
	}
	if !strings.Contains(stdout, "Updated git: 2.40.0 -> 2.42.1") || !strings.Contains(stdout, "Dry run:") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestUpdateQuietPrintsFailuresOnly(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.40.0", "curl": "8.0.0"}}`)

	stdout, _, err := executeCommand(newTestRoot(), "update", "--quiet", "--manifest", path, "--index-url", server.URL)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if stdout != "Error fetching data for curl: 404\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestUpdateVerboseLogsToStderr(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.40.0"}}`)

	_, stderr, err := executeCommand(newTestRoot(), "update", "--verbose", "--manifest", path, "--index-url", server.URL)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if !strings.Contains(stderr, "tool updated") || !strings.Contains(stderr, "run_id=") {
		t.Fatalf("stderr = %q, want debug logs with run_id", stderr)
	}
}

func TestUpdateValidationErrors(t *testing.T) {
	isolateEnv(t)
	path := writeTestFile(t, "tools.json", `{"tools": {}}`)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "unknown mode", args: []string{"--mode", "soap"}, want: exitValidation},
		{name: "relative index url", args: []string{"--index-url", "community.chocolatey.org"}, want: exitValidation},
		{name: "zero timeout", args: []string{"--timeout", "0s"}, want: exitValidation},
		{name: "missing config", args: []string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, want: exitFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"update", "--manifest", path}, tt.args...)
			_, _, err := executeCommand(newTestRoot(), args...)
			if code := exitCode(t, err); code != tt.want {
				t.Fatalf("exit code = %d, want %d (err=%v)", code, tt.want, err)
			}
		})
	}
}

func TestUpdateConfigFile(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.40.0"}}`)
	t.Setenv("TEST_INDEX_URL", server.URL)
	configPath := writeTestFile(t, "toolversions.yaml", "manifest: "+path+"\nindex_url: ${TEST_INDEX_URL}\n")

	_, _, err := executeCommand(newTestRoot(), "update", "--config", configPath)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if got := readTestFile(t, path); !strings.Contains(got, `"git": "2.42.1"`) {
		t.Fatalf("manifest = %q", got)
	}
}

func TestListPrintsTable(t *testing.T) {
	isolateEnv(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.40.0", "jq": ""}}`)

	stdout, _, err := executeCommand(newTestRoot(), "list", "--manifest", path)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	want := "NAME  VERSION\ngit   2.40.0\njq    -\n"
	if stdout != want {
		t.Fatalf("stdout = %q, want %q", stdout, want)
	}
}

func TestListMissingManifest(t *testing.T) {
	isolateEnv(t)
	_, _, err := executeCommand(newTestRoot(), "list", "--manifest", filepath.Join(t.TempDir(), "tools.json"))
	if code := exitCode(t, err); code != exitFileNotFound {
		t.Fatalf("exit code = %d, want %d", code, exitFileNotFound)
	}
}

func TestRootShorthandsAndVersion(t *testing.T) {
	isolateEnv(t)
	server, _ := newIndexServer(t)
	path := writeTestFile(t, "tools.json", `{"tools": {"git": "2.40.0", "curl": "8.0.0"}}`)

	stdout, _, err := executeCommand(newTestRoot(), "-q", "-m", path, "--index-url", server.URL)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if stdout != "Error fetching data for curl: 404\n" {
		t.Fatalf("stdout = %q", stdout)
	}

	stdout, _, err = executeCommand(newTestRoot(), "--version")
	if err != nil {
		t.Fatalf("--version error = %v", err)
	}
	if stdout != "toolversions version test\n" {
		t.Fatalf("--version = %q", stdout)
	}
}

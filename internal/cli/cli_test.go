package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/mailfiles/internal/apperr"
)

type cliEnv struct {
	dir     string
	root    string
	cfgFile string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)

	root := filepath.Join(dir, "sandbox")
	cfgFile := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`
storage:
  sandbox_root: %q
database:
  path: %q
logger:
  output_path: %q
`, root, filepath.Join(dir, "log.db"), filepath.Join(dir, "mailfiles.log"))
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0o600))

	return &cliEnv{dir: dir, root: root, cfgFile: cfgFile}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Run(context.Background(), append([]string{"--config", e.cfgFile}, args...), &out, &errOut)
	return out.String(), err
}

func (e *cliEnv) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(e.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestRootCmd_Commands(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"open", "delete", "name", "mime", "size", "exists", "folders", "upload", "download", "history"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
		assert.NotNil(t, sub.RunE, name)
	}

	upload, _, err := cmd.Find([]string{"upload"})
	require.NoError(t, err)
	assert.NotNil(t, upload.Flags().Lookup("header"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestCLI_FileCommands(t *testing.T) {
	env := newCLIEnv(t)
	p := env.write(t, "decrypted/notes.txt", "hello")

	out, err := env.run(t, "name", p)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt\n", out)

	out, err = env.run(t, "size", p)
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	out, err = env.run(t, "mime", p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "text/plain"), out)

	out, err = env.run(t, "exists", "decrypted/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = env.run(t, "delete", p)
	require.NoError(t, err)
	assert.NoFileExists(t, p)

	out, err = env.run(t, "exists", p)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestCLI_Errors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "size", "../outside")
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	_, err = env.run(t, "size", "missing.bin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.run(t, "name")
	assert.Error(t, err, "missing argument")

	_, err = env.run(t, "download", "https://example.com", "a.txt", "--header", "broken")
	assert.Error(t, err)

	_, err = env.run(t, "history", "--direction", "sideways")
	assert.Error(t, err)
}

func TestCLI_Folders(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "folders")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(env.root, "encrypted"))
	assert.Contains(t, out, filepath.Join(env.root, "decrypted"))
	assert.DirExists(t, filepath.Join(env.root, "decrypted"))
}

func TestCLI_TransfersAndHistory(t *testing.T) {
	var gotHeader string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprint(w, "attachment")
	}))
	defer remote.Close()

	env := newCLIEnv(t)
	local := env.write(t, "encrypted/blob", "0123")

	out, err := env.run(t, "upload", local, remote.URL, "--header", "X-Token=abc")
	require.NoError(t, err)
	assert.Equal(t, "204\n", out)
	assert.Equal(t, "abc", gotHeader)

	out, err = env.run(t, "download", remote.URL, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "decrypted", "report.pdf")+"\n", out)

	out, err = env.run(t, "download", remote.URL, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "decrypted", "report (1).pdf")+"\n", out)

	out, err = env.run(t, "history", "--direction", "download")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3, out)
	assert.Contains(t, lines[1], "DOWNLOAD")

	out, err = env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "UPLOAD")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

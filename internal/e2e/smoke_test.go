package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/fakeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)

	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.AddUser(domain.UserProfile{ID: "U1", Username: "dana", DisplayName: "Dana"}, "dana-pw")
	srv.SeedProducts(domain.Product{ID: "p1", SKU: "SKU-1", Name: "Espresso beans", PriceCents: 1450, Stock: 3})

	require.NoError(t, writeConfigFixture(home, srv.URL()))

	_, stderr, err := runPossync(t, binaryPath, home, "login", "--username", "dana", "--password", "dana-pw")
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err := runPossync(t, binaryPath, home, "products")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Espresso beans")

	_, err = os.Stat(filepath.Join(home, ".possync", "session", "session.json"))
	require.NoError(t, err, "file backend keeps the session between runs")

	_, stderr, err = runPossync(t, binaryPath, home, "logout")
	require.NoError(t, err, "stderr: %s", stderr)

	_, stderr, err = runPossync(t, binaryPath, home, "products")
	require.Error(t, err)
	assert.Contains(t, stderr, "run `possync login` first")
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "possync-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/possync")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build possync binary: %s", string(output))
	return binaryPath
}

func runPossync(t *testing.T, binaryPath, home string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), "HOME="+home)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func writeConfigFixture(home, baseURL string) error {
	configDir := filepath.Join(home, ".possync")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return err
	}

	config := "[api]\nbase_url = '" + baseURL + "'\n\n[session]\nbackend = 'file'\n"
	return os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(config), 0o600)
}

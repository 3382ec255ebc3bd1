package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-bff/internal/oidctest"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestValidateCommand(t *testing.T) {
	issuer := oidctest.NewIssuer(t)
	path := filepath.Join(t.TempDir(), "bff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: oidc
    endpoint_name: account
    issuer: `+issuer.URL()+`
    client_id: `+oidctest.ClientID+`
    client_secret: `+oidctest.ClientSecret+`
clusters:
  - name: api
    destinations: [http://localhost:9000]
routes:
  - name: api
    prefix: /api
    cluster: api
    auth_required: true
`), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "configuration is valid")
}

func TestValidateCommand_RejectsReservedPrefix(t *testing.T) {
	issuer := oidctest.NewIssuer(t)
	path := filepath.Join(t.TempDir(), "bff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: oidc
    issuer: `+issuer.URL()+`
    client_id: `+oidctest.ClientID+`
clusters:
  - name: api
    destinations: [http://localhost:9000]
routes:
  - name: api
    prefix: /account/api
    cluster: api
`), 0o600))

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
}

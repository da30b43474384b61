package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Default()
	cfg.EndpointName = "urn:imei:file-value"
	cfg.BootstrapServerURI = "coap://bootstrap.example"
	require.NoError(t, Write(path, cfg))

	t.Setenv("LWM2M_ENDPOINT_NAME", "urn:imei:env-value")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "urn:imei:env-value", loaded.EndpointName)
	assert.Equal(t, "coap://bootstrap.example", loaded.BootstrapServerURI)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidateRequiresBootstrapSource(t *testing.T) {
	cfg := Default()
	cfg.EndpointName = "urn:imei:123"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsBothBootstrapSources(t *testing.T) {
	cfg := Default()
	cfg.EndpointName = "urn:imei:123"
	cfg.BootstrapServerURI = "coap://a"
	cfg.FactoryBootstrapConfig = "factory.json"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsPartialPSK(t *testing.T) {
	cfg := Default()
	cfg.EndpointName = "urn:imei:123"
	cfg.BootstrapServerURI = "coap://a"
	cfg.Security.PSKIdentity = "client-1"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Default()
	cfg.EndpointName = "urn:imei:123"
	cfg.BootstrapServerURI = "coap://a"
	cfg.Security.PSKIdentity = "client-1"
	cfg.Security.PSKKey = "00112233"
	assert.NoError(t, cfg.Validate())
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Default()
	cfg.EndpointName = "urn:imei:roundtrip"
	cfg.BootstrapServerURI = "coap://a"
	require.NoError(t, Write(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.EndpointName, loaded.EndpointName)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJson(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"endpoint_addr_http": ":8088",
		"database_dsn": "postgres://json",
		"secret_key": "json-secret",
		"session_token_validity": "48h",
		"bcrypt_cost": 11,
		"max_payload_bytes": 1048576,
		"s3_root_user": "ju",
		"s3_root_password": "jp",
		"s3_bucket": "jb",
		"s3_region": "eu-west-1",
		"s3_base_endpoint": "http://minio:9000/"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"cmd", "-c", path}

	config := &Config{}
	config.LoadDefaults()
	parseJson(config)

	assert.Equal(t, ":8088", config.EndpointAddrHTTP)
	assert.Equal(t, "postgres://json", config.DatabaseDSN)
	assert.Equal(t, "json-secret", config.SecretKey)
	assert.Equal(t, 48*time.Hour, config.SessionTokenValidity)
	assert.Equal(t, 11, config.BcryptCost)
	assert.Equal(t, int64(1<<20), config.MaxPayloadBytes)
	assert.Equal(t, "http://minio:9000/", config.S3BaseEndpoint)
}

func TestParseJson_NoFileFlag(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"cmd"}

	config := &Config{}
	config.LoadDefaults()
	parseJson(config)

	assert.Equal(t, ":3000", config.EndpointAddrHTTP)
}

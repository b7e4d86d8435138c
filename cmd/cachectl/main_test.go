package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, addr string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.yaml")
	body := "adapter: redis\nnamespace: cli\nredis:\n  addrs: [" + addr + "]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSetGetFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, mr.Addr())

	_, err := run(t, cfg, "set", "user:1", `{"name":"ada"}`, "--tag", "users", "--ttl", "1m")
	require.NoError(t, err)
	assert.True(t, mr.Exists("cache:d:cli:user:1"))

	out, err := run(t, cfg, "get", "user:1")
	require.NoError(t, err)
	var e struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.JSONEq(t, `{"name":"ada"}`, string(e.Data))

	out, err = run(t, cfg, "keys", "--tag", "users")
	require.NoError(t, err)
	assert.JSONEq(t, `["cli:user:1"]`, out)

	out, err = run(t, cfg, "flush", "--tag", "users")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":1}`, out)

	_, err = run(t, cfg, "get", "user:1")
	assert.ErrorIs(t, err, errMissing)
}

func TestIncrAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, mr.Addr())

	out, err := run(t, cfg, "incr", "hits", "5", "--ttl", "1h")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":5}`, out)

	out, err = run(t, cfg, "ttl", "hits")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ttl":"1h0m0s"}`, out)
}

func TestSetRejectsInvalidJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, mr.Addr())

	_, err := run(t, cfg, "set", "k", "not json")
	assert.Error(t, err)

	_, err = run(t, cfg, "set", "k", "not json", "--string")
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	out, err := run(t, writeConfig(t, mr.Addr()), "ping")
	require.NoError(t, err)
	assert.JSONEq(t, `{"alive":true}`, out)
}

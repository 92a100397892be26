package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/portalauth/client"
	"github.com/panyam/portalauth/internal/config"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewStore_Kinds(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		kind string
		env  map[string]string
	}{
		{config.StoreMemory, nil},
		{config.StoreFS, map[string]string{"PORTAL_STORE_PATH": filepath.Join(dir, "creds.json")}},
		{config.StoreFS, map[string]string{
			"PORTAL_STORE_PATH":       filepath.Join(dir, "sealed.json"),
			"PORTAL_STORE_PASSPHRASE": "pw",
		}},
		{config.StoreSQLite, map[string]string{"PORTAL_SQLITE_PATH": filepath.Join(dir, "db", "creds.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			env := map[string]string{"PORTAL_STORE": tt.kind}
			for k, v := range tt.env {
				env[k] = v
			}
			cfg := testConfig(t, env)

			store, closeStore, err := newStore(context.Background(), cfg)
			require.NoError(t, err)
			defer closeStore()

			require.NoError(t, store.Save("a1", client.Refresh("r1")))
			creds, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, client.Credentials{AccessToken: "a1", RefreshToken: "r1"}, creds)
			require.NoError(t, store.Clear())
		})
	}
}

func TestNewStore_UnreadableFileFallsBackToMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	cfg := testConfig(t, map[string]string{
		"PORTAL_STORE":      config.StoreFS,
		"PORTAL_STORE_PATH": path,
	})

	store, closeStore, err := newStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	creds, err := store.Load()
	require.NoError(t, err)
	assert.True(t, creds.IsZero())

	require.NoError(t, store.Save("a1", client.Refresh("r1")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "the damaged file is left for the user to inspect")
}

func TestServeHandler_DemoLoginAndProxy(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PORTAL_STORE": config.StoreMemory})
	stopDemo, err := startDemoPortal(cfg)
	require.NoError(t, err)
	defer stopDemo()

	store, closeStore, err := newStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	reg := prometheus.NewRegistry()
	manager := newManager(cfg, store, client.NewMetrics(reg))
	defer manager.Close()
	require.NoError(t, manager.Bootstrap(context.Background()))

	var handler http.Handler
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	defer app.Close()
	cfg.Portal.PublicURL = app.URL
	handler, err = newServeHandler(cfg, manager, reg)
	require.NoError(t, err)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{Jar: jar}

	// Sign in through the demo provider and land on a proxied API path
	resp, err := browser.Get(app.URL + "/login?redirect=" + url.QueryEscape(client.ProfilePath))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, client.ProfilePath, resp.Request.URL.Path)

	var env struct {
		Success bool                  `json:"success"`
		Data    client.ProfilePayload `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.Equal(t, demoUserEmail, env.Data.Email)

	metrics, err := browser.Get(app.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-sim/neuron-sim/sim/internal/testutil"
)

func TestLoadFileCatalog_Fixture(t *testing.T) {
	c, err := LoadFileCatalog(testutil.TestdataPath(t, "catalog.yaml"))
	require.NoError(t, err)

	d, err := c.FetchSynaptomeDetails(context.Background(), "synaptome-l5pc", "ignored")

	require.NoError(t, err)
	assert.Equal(t, "l5pc-cadpyr", d.BaseModelRef)
	require.Len(t, d.Placement, 2)
	assert.Equal(t, "exc-apical", d.Placement[0].ID)
	assert.Equal(t, 120, d.Placement[0].Count)
	assert.True(t, d.Placement[1].Inhibitory())
}

func TestFileCatalog_UnknownModel_ErrNotFound(t *testing.T) {
	c, err := NewFileCatalog(Document{})
	require.NoError(t, err)

	_, err = c.FetchSynaptomeDetails(context.Background(), "nope", "")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileCatalog_ReturnsCopies(t *testing.T) {
	c, err := NewFileCatalog(Document{Models: []Entry{{
		Self:             "m",
		SynaptomeDetails: *testutil.Details("A"),
	}}})
	require.NoError(t, err)

	d1, err := c.FetchSynaptomeDetails(context.Background(), "m", "")
	require.NoError(t, err)
	d1.Placement[0].ID = "mutated"

	d2, err := c.FetchSynaptomeDetails(context.Background(), "m", "")
	require.NoError(t, err)
	assert.Equal(t, "A", d2.Placement[0].ID)
}

func TestLoadFileCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "models:\n  - self: m\n    base_model_self: b\n    colour: red\n", "colour"},
		{"missing self", "models:\n  - base_model_self: b\n", "self is required"},
		{"missing base", "models:\n  - self: m\n", "base_model_self is required"},
		{"duplicate", "models:\n  - self: m\n    base_model_self: b\n  - self: m\n    base_model_self: c\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadFileCatalog(path)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHTTPCatalog_SendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(testutil.Details("A", "B"))
	}))
	defer srv.Close()

	c := NewHTTPCatalog(srv.URL+"/models/", 5*time.Second)
	d, err := c.FetchSynaptomeDetails(context.Background(), "org/syn 1", "secret")

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/models/org%2Fsyn%201", gotPath)
	assert.Equal(t, "me-model", d.BaseModelRef)
	assert.Len(t, d.Placement, 2)
}

func TestHTTPCatalog_StatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		notFound bool
	}{
		{http.StatusNotFound, "", true},
		{http.StatusForbidden, "no access", false},
		{http.StatusOK, `{"synapses": []}`, false},
		{http.StatusOK, `not json`, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPCatalog(srv.URL, time.Second).FetchSynaptomeDetails(context.Background(), "m", "")

			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestCatalogs_ImplementInterface(t *testing.T) {
	var _ Catalog = (*FileCatalog)(nil)
	var _ Catalog = (*HTTPCatalog)(nil)
}

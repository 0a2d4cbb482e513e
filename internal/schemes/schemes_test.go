package schemes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch-backend/internal/monitor"
)

func TestClientMatchSchemes(t *testing.T) {
	var got matchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/match", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(matchResponse{Schemes: []monitor.Scheme{{Name: "PMEGP", PriorityMatch: true}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, nil)
	schemes, err := c.MatchSchemes(context.Background(), monitor.Profile{PlantID: "p1", Industry: "Textiles"}, "loom down")
	require.NoError(t, err)
	require.Len(t, schemes, 1)
	assert.Equal(t, "PMEGP", schemes[0].Name)
	assert.Equal(t, "loom down", got.Issue)
	assert.Equal(t, "Textiles", got.Profile.Industry)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"schemes":[]}`))
	}))
	defer srv.Close()

	schemes, err := NewClient(srv.URL, "", time.Second, nil).MatchSchemes(context.Background(), monitor.Profile{}, "x")
	require.NoError(t, err)
	assert.Empty(t, schemes)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientReportsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "nope", time.Second, nil).MatchSchemes(context.Background(), monitor.Profile{}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(`
schemes:
  - name: State Interest Subvention
    ministry: Industries Department
    level: State
    max_benefit: 5% interest subvention
    benefit_type: Interest subsidy
    priority_match: true
`))
	require.NoError(t, err)
	schemes, err := c.MatchSchemes(context.Background(), monitor.Profile{}, "")
	require.NoError(t, err)
	require.Len(t, schemes, 1)
	assert.Equal(t, "State", schemes[0].Level)
	assert.NotNil(t, schemes[0].EligibilityCriteria)

	_, err = ParseCatalog([]byte(`schemes: []`))
	require.Error(t, err)
	_, err = ParseCatalog([]byte("schemes:\n  - ministry: x\n"))
	require.Error(t, err)
}

type failingMatcher struct{ err error }

func (f failingMatcher) MatchSchemes(context.Context, monitor.Profile, string) ([]monitor.Scheme, error) {
	return nil, f.err
}

func TestFallbackUsesCatalogOnFailure(t *testing.T) {
	f := WithFallback(failingMatcher{err: errors.New("timeout")}, BuiltinCatalog(), nil)
	schemes, err := f.MatchSchemes(context.Background(), monitor.Profile{PlantID: "p1"}, "press down")
	require.NoError(t, err)
	assert.Len(t, schemes, len(builtinSchemes))

	// callers cannot corrupt the catalog
	schemes[0].Name = "changed"
	again, err := BuiltinCatalog().MatchSchemes(context.Background(), monitor.Profile{}, "")
	require.NoError(t, err)
	assert.NotEqual(t, "changed", again[0].Name)

	_, err = WithFallback(failingMatcher{err: errors.New("down")}, nil, nil).MatchSchemes(context.Background(), monitor.Profile{}, "")
	require.Error(t, err)
}

func TestLoadCatalogEmptyPathIsBuiltin(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	schemes, err := c.MatchSchemes(context.Background(), monitor.Profile{}, "")
	require.NoError(t, err)
	assert.True(t, schemes[0].PriorityMatch)
}

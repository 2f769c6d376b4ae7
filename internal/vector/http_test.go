package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPIndexSearch(t *testing.T) {
	hitID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vectors/search", r.URL.Path)
		assert.Equal(t, "Bearer vec-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, NamespaceCache, req.Namespace)
		assert.Equal(t, "tulum", req.Zone)
		assert.Equal(t, 1, req.TopK)

		json.NewEncoder(w).Encode(searchResponse{
			Results: []searchHit{{ID: hitID, Score: 0.91}},
		})
	}))
	defer srv.Close()

	idx, err := NewHTTPIndex(HTTPConfig{BaseURL: srv.URL, APIKey: "vec-key"})
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Search(context.Background(), []float32{1, 0}, 1, Filter{
		Namespace:   NamespaceCache,
		Zone:        "tulum",
		Development: "fuego",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hitID, results[0].ID)
	assert.InDelta(t, 0.91, results[0].Score, 1e-6)
}

func TestHTTPIndexUpsertDelete(t *testing.T) {
	id := uuid.New()
	var gotUpsert upsertRequest
	var gotDelete deleteRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/vectors/upsert":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotUpsert))
		case "/v1/vectors/delete":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotDelete))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	idx, err := NewHTTPIndex(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	defer idx.Close()

	err = idx.Upsert(context.Background(), []Entry{{
		ID:          id,
		Namespace:   NamespaceKnowledge,
		Zone:        "merida",
		Development: "norte",
		Vector:      []float32{0.5, 0.5},
	}})
	require.NoError(t, err)
	require.Len(t, gotUpsert.Entries, 1)
	assert.Equal(t, id, gotUpsert.Entries[0].ID)
	assert.Equal(t, NamespaceKnowledge, gotUpsert.Entries[0].Namespace)

	require.NoError(t, idx.Delete(context.Background(), []uuid.UUID{id}))
	assert.Equal(t, []uuid.UUID{id}, gotDelete.IDs)
}

func TestHTTPIndexServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	idx, err := NewHTTPIndex(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), []float32{1}, 1, Filter{Namespace: NamespaceCache})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPIndexRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPIndex(HTTPConfig{})
	assert.Error(t, err)
}

package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Hosts: map[Index]string{IndexCFR: "https://example.test"}}, nil)
	assert.Error(t, err, "missing API key")

	_, err = New(Config{APIKey: "pc-key"}, nil)
	assert.Error(t, err, "missing hosts")
}

func TestQuery(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotKey string
		var gotBody queryRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("Api-Key")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(queryResponse{Matches: []Match{
				{ID: "cfr-4.87", Score: 0.91, Metadata: map[string]any{"section_number": "4.87", "part_number": "4"}},
				{ID: "cfr-4.85", Score: 0.88, Metadata: map[string]any{"section_number": "4.85", "part_number": "4"}},
			}})
		}))
		defer srv.Close()

		c, err := New(Config{APIKey: "pc-key", Hosts: map[Index]string{IndexCFR: srv.URL}}, nil)
		require.NoError(t, err)

		matches, err := c.Query(context.Background(), IndexCFR, []float32{0.1, 0.2}, 2)
		require.NoError(t, err)

		assert.Equal(t, "/query", gotPath)
		assert.Equal(t, "pc-key", gotKey)
		assert.Equal(t, 2, gotBody.TopK)
		assert.True(t, gotBody.IncludeMetadata)
		require.Len(t, matches, 2)
		assert.Equal(t, "4.87", matches[0].Meta("section_number"))
	})

	t.Run("topK defaults to 3", func(t *testing.T) {
		t.Parallel()

		var gotBody queryRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(queryResponse{})
		}))
		defer srv.Close()

		c, err := New(Config{APIKey: "pc-key", Hosts: map[Index]string{IndexM21: srv.URL}}, nil)
		require.NoError(t, err)

		_, err = c.Query(context.Background(), IndexM21, []float32{0.5}, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, gotBody.TopK)
	})

	t.Run("unknown index", func(t *testing.T) {
		t.Parallel()

		c, err := New(Config{APIKey: "pc-key", Hosts: map[Index]string{IndexCFR: "https://example.test"}}, nil)
		require.NoError(t, err)

		_, err = c.Query(context.Background(), IndexM21, []float32{0.5}, 3)
		assert.ErrorIs(t, err, ErrUnknownIndex)
	})

	t.Run("non-200 status", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer srv.Close()

		c, err := New(Config{APIKey: "bad-key", Hosts: map[Index]string{IndexCFR: srv.URL}}, nil)
		require.NoError(t, err)

		_, err = c.Query(context.Background(), IndexCFR, []float32{0.5}, 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
	})
}

func TestMatchMeta(t *testing.T) {
	t.Parallel()

	m := Match{Metadata: map[string]any{"section_number": "3.309", "score_hint": 12}}
	assert.Equal(t, "3.309", m.Meta("section_number"))
	assert.Equal(t, "", m.Meta("missing"))
	assert.Equal(t, "", m.Meta("score_hint"), "non-string metadata reads as empty")
}

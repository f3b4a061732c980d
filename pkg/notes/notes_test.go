package notes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, StaticToken("tok"))
}

func TestListUnwrapsCountedEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notes", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"count":   2,
			"data": map[string]any{
				"count": 2,
				"data": []map[string]any{
					{"id": "n1", "title": "first"},
					{"id": "n2", "title": "second"},
				},
			},
		})
	})

	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
}

func TestSearchEscapesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a b&c", r.URL.Query().Get("search"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": []any{}})
	})

	_, err := c.Search(context.Background(), "a b&c")
	require.NoError(t, err)
}

func TestGetDecodesNoteWithFolder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notes/n1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"id": "n1", "title": "t", "content": "c",
				"folder": map[string]any{"id": "f1", "name": "work"},
			},
		})
	})

	note, err := c.Get(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, note.Folder)
	assert.Equal(t, "work", note.Folder.Name)
}

func TestGetUnknownNote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "note not found"})
	})

	_, err := c.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSendsPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "draft", req.Title)

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"id": "n9", "title": req.Title},
		})
	})

	note, err := c.Create(context.Background(), CreateRequest{Title: "draft", Content: "..."})
	require.NoError(t, err)
	assert.Equal(t, "n9", note.ID)
}

func TestUpdateOmitsNilFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Contains(t, raw, "content")
		assert.NotContains(t, raw, "title")

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"id": "n1", "content": "new"},
		})
	})

	content := "new"
	_, err := c.Update(context.Background(), "n1", UpdateRequest{Content: &content})
	require.NoError(t, err)
}

func TestDeleteSucceeds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	assert.NoError(t, c.Delete(context.Background(), "n1"))
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "missing token"})
			return
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken(""))
	_, err := c.List(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

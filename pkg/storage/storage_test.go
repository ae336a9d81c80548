package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadChunkReturnsPointer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chunks", r.URL.Path)
		_ = json.NewEncoder(w).Encode(UploadResult{Pointer: "https://storage.example/chunks/m1/0"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	pointer, err := c.UploadChunk(context.Background(), "m1", 0, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.example/chunks/m1/0", pointer)
}

func TestUploadChunkFallsBackToConventionalPointer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	pointer, err := c.UploadChunk(context.Background(), "m1", 3, []byte("data"))
	require.NoError(t, err) // 204 carries no body, so the conventional pointer is used
	assert.Equal(t, srv.URL+"/chunks/m1/3", pointer)
}

func TestFetchChunkRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chunkResponse{Data: base64.StdEncoding.EncodeToString([]byte("hello"))})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	data, err := c.FetchChunk(context.Background(), srv.URL+"/chunks/m1/0")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestFetchChunkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.FetchChunk(context.Background(), srv.URL+"/chunks/m1/0")
	assert.Error(t, err)
}

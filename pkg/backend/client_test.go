package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/store"
)

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/history", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "room-1", r.URL.Query().Get("room_id"))
		assert.Equal(t, "0", r.URL.Query().Get("offset"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(store.Page{
			Items: []model.Message{
				{ID: 2, Body: "newer", CreatedAt: time.Now()},
				{ID: 1, Body: "older", CreatedAt: time.Now()},
			},
			Total: 2,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.FetchPage(context.Background(), "room-1", 0, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "newer", page.Items[0].Body)
}

func TestFetchPage_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	_, err := c.FetchPage(context.Background(), "room-1", 0, 25)
	assert.Error(t, err)
}

func TestJoinAndResolve(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	require.NoError(t, c.Join(context.Background(), "room-1"))
	require.NoError(t, c.MarkResolved(context.Background(), "room-1"))

	assert.Equal(t, []string{
		"POST /rooms/room-1/join",
		"POST /rooms/room-1/resolve",
	}, paths)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "shot.png", r.Header.Get("X-Attachment-Name"))
		json.NewEncoder(w).Encode(uploadResponse{URL: "/attachments/abc.png"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	url, err := c.Upload(context.Background(), "shot.png", "image/png", []byte("pngbytes"))
	require.NoError(t, err)
	assert.Equal(t, "/attachments/abc.png", url)
}

func TestUpload_RejectsOversizedWithoutCallingService(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	_, err := c.Upload(context.Background(), "huge.bin", "application/octet-stream",
		make([]byte, MaxAttachmentBytes+1))

	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, calls.Load(), "oversized uploads must not reach the service")
}

func TestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "op1", req.OperatorID)
		json.NewEncoder(w).Encode(tokenResponse{Token: "issued"})
	}))
	defer srv.Close()

	token, err := Token(context.Background(), srv.URL, "op1", "Support")
	require.NoError(t, err)
	assert.Equal(t, "issued", token)
}

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSendMessage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegram("token123", "chat42")
	n.BaseURL = srv.URL

	err := n.Send(context.Background(), Notification{Title: "falcon arrived", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
}

func TestTelegramSendPhoto(t *testing.T) {
	var gotPath, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	thumb := filepath.Join(t.TempDir(), "thumb.jpg")
	require.NoError(t, os.WriteFile(thumb, []byte("jpegdata"), 0o644))

	n := NewTelegram("token123", "chat42")
	n.BaseURL = srv.URL

	err := n.Send(context.Background(), Notification{
		Title: "falcon departed", Body: "bye", ThumbnailPath: thumb,
	})
	require.NoError(t, err)
	assert.Equal(t, "/bottoken123/sendPhoto", gotPath)
	assert.Contains(t, contentType, "multipart/form-data")
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":403,"description":"bot blocked"}`))
	}))
	defer srv.Close()

	n := NewTelegram("token123", "chat42")
	n.BaseURL = srv.URL

	err := n.Send(context.Background(), Notification{Title: "x", Body: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot blocked")
}

func TestTelegramUnconfigured(t *testing.T) {
	n := NewTelegram("", "")
	assert.Error(t, n.Send(context.Background(), Notification{Title: "x"}))
}

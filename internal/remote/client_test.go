package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Katie1225/voicevault/internal/config"
	"github.com/Katie1225/voicevault/pkg/models"
)

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(path, []byte("pcm"), 0o644))
	return path
}

func TestTranscribe(t *testing.T) {
	var gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer srv.Close()

	c := New(config.Remote{TranscribeURL: srv.URL, APIKey: "secret"})
	text, err := c.Transcribe(context.Background(), audioFile(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "pcm", string(gotBody))
}

func TestTranscribeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"audio too noisy"}`))
	}))
	defer srv.Close()

	c := New(config.Remote{TranscribeURL: srv.URL})
	_, err := c.Transcribe(context.Background(), audioFile(t))

	var extErr *models.ExternalError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, models.OpTranscribe, extErr.Op)
	assert.Equal(t, "audio too noisy", extErr.Diagnostic)
}

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"short version"}`))
	}))
	defer srv.Close()

	c := New(config.Remote{SummarizeURL: srv.URL})
	out, err := c.Summarize(context.Background(), "long transcript", "make it short")
	require.NoError(t, err)
	assert.Equal(t, "short version", out)
}

func TestBalanceAndReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/balance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-1", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"coins":37}`))
	})
	mux.HandleFunc("/transaction", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(config.Remote{LedgerURL: srv.URL})

	coins, err := c.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(37), coins)

	err = c.Report(context.Background(), models.LedgerTransaction{
		AccountID: "user-1",
		Action:    models.ActionDebit,
		Value:     3,
		Note:      "transcribe",
	})
	assert.NoError(t, err)
}

func TestReportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c := New(config.Remote{LedgerURL: srv.URL})
	err := c.Report(context.Background(), models.LedgerTransaction{AccountID: "user-1"})
	assert.Error(t, err)
}

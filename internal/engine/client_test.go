package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeWav(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(p, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return p
}

func TestTranscribeSendsMultipartAndCleansText(t *testing.T) {
	var gotModel, gotLanguage, gotDevice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotDevice = r.FormValue("device")
		json.NewEncoder(w).Encode(map[string]any{
			"text":        "Привет мир, это тест\nnoise line",
			"segments":    []map[string]any{{"start": 0.0, "end": 1.5, "text": "Привет мир"}},
			"token_count": 7,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	res, err := c.Transcribe(context.Background(), writeWav(t), "base", "Russian", 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if gotModel != "base" || gotLanguage != "Russian" || gotDevice != "1" {
		t.Fatalf("form fields: model=%q language=%q device=%q", gotModel, gotLanguage, gotDevice)
	}
	if res.Text != "Привет мир, это тест" {
		t.Fatalf("text=%q", res.Text)
	}
	if len(res.Segments) != 1 || res.TokenCount != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTranscribeEngineErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model load failed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if _, err := c.Transcribe(context.Background(), writeWav(t), "base", "Russian", 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFetchPullsModel(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/pull" {
			t.Errorf("path=%s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if err := c.Fetch(context.Background(), "large-v3"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotBody["model"] != "large-v3" {
		t.Fatalf("body=%v", gotBody)
	}
}

func TestIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if !c.IsAvailable(context.Background()) {
		t.Fatalf("expected available")
	}
	srv.Close()
	if c.IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable after close")
	}
}

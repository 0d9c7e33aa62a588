package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model: want %q, got %q", DefaultModel, p.model)
	}
	if p.SampleRate() != 24000 {
		t.Errorf("sample rate: want 24000, got %d", p.SampleRate())
	}
}

func TestListVoices_GenderMetadata(t *testing.T) {
	p, _ := New("key", "")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	females := 0
	for _, v := range voices {
		if v.Provider != "openai" {
			t.Errorf("voice %q: provider %q", v.ID, v.Provider)
		}
		if v.Metadata[tts.MetaGender] == "female" {
			females++
		}
	}
	if females == 0 {
		t.Error("expected at least one female voice in the catalogue")
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	type speechReq struct {
		Input          string  `json:"input"`
		Voice          string  `json:"voice"`
		ResponseFormat string  `json:"response_format"`
		Speed          float64 `json:"speed"`
	}
	got := make(chan speechReq, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		var req speechReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2, 3, 4, 5})
	}))
	defer srv.Close()

	p, err := New("key", "", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 2)
	text <- "It is"
	text <- "noon."
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "nova"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var total []byte
	for chunk := range audio {
		if len(chunk)%2 != 0 {
			t.Errorf("chunk not sample aligned: %d bytes", len(chunk))
		}
		total = append(total, chunk...)
	}
	if len(total) != 4 {
		t.Errorf("expected 4 aligned bytes, got %d", len(total))
	}

	req := <-got
	if req.Input != "It is noon." {
		t.Errorf("input: got %q", req.Input)
	}
	if req.Voice != "nova" {
		t.Errorf("voice: got %q", req.Voice)
	}
	if req.ResponseFormat != "pcm" {
		t.Errorf("response_format: got %q", req.ResponseFormat)
	}
	if req.Speed != 1.0 {
		t.Errorf("speed: got %v", req.Speed)
	}
}

func TestSynthesizeStream_EmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()

	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called <- struct{}{}
	}))
	defer srv.Close()

	p, _ := New("key", "", WithBaseURL(srv.URL+"/"))
	text := make(chan string)
	close(text)
	audio, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	for range audio {
	}
	select {
	case <-called:
		t.Error("expected no request for empty input")
	default:
	}
}

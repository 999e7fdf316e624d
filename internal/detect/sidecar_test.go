package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presidioServer(t *testing.T, results string) (*httptest.Server, *presidioAnalyzeRequest) {
	t.Helper()
	var got presidioAnalyzeRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Presidio Analyzer service is up"))
	})
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(results))
	})
	mux.HandleFunc("/anonymize", func(w http.ResponseWriter, r *http.Request) {
		var req presidioAnonymizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "<PERSON> called", "items": []any{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestPresidioDetect(t *testing.T) {
	srv, req := presidioServer(t, `[
		{"entity_type":"PERSON","start":0,"end":8,"score":0.85,
		 "analysis_explanation":{"recognizer":"SpacyRecognizer","original_score":0.85},
		 "recognition_metadata":{"recognizer_name":"SpacyRecognizer"}},
		{"entity_type":"EMAIL_ADDRESS","start":9,"end":15,"score":0.2}
	]`)
	e := NewPresidioEngine(PresidioConfig{AnalyzerURL: srv.URL, AnonymizerURL: srv.URL})

	got, err := e.Detect(context.Background(), "John Doe called", Options{Language: "en", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PERSON", got[0].EntityType)
	assert.Equal(t, "John Doe", got[0].Text)
	assert.Equal(t, "SpacyRecognizer", got[0].Explanation["recognizer"])
	assert.Equal(t, 0.85, got[0].Explanation["original_score"])
	assert.Equal(t, 0, got[0].Explanation["score_context_improvement"])

	assert.Equal(t, PresidioDefaultEntities, req.Entities)
	assert.True(t, req.ReturnDecisionProcess)
	assert.Equal(t, 0.5, req.ScoreThreshold)
}

func TestPresidioDetectConvertsCodePointOffsets(t *testing.T) {
	srv, _ := presidioServer(t, `[{"entity_type":"PERSON","start":6,"end":10,"score":0.9}]`)
	e := NewPresidioEngine(PresidioConfig{AnalyzerURL: srv.URL})
	text := "héllo Jörg"
	got, err := e.Detect(context.Background(), text, Options{Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Jörg", got[0].Text)
	assert.Equal(t, text[got[0].Start:got[0].End], got[0].Text)
}

func TestPresidioAnonymize(t *testing.T) {
	srv, _ := presidioServer(t, `[]`)
	e := NewPresidioEngine(PresidioConfig{AnalyzerURL: srv.URL, AnonymizerURL: srv.URL})
	f, ok := NewFinding("John called", "PERSON", 0, 4, 0.9, nil)
	require.True(t, ok)
	out, err := e.Anonymize(context.Background(), "John called", []Finding{f})
	require.NoError(t, err)
	assert.Equal(t, "<PERSON> called", out)
}

func TestPresidioHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "analyzer exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	e := NewPresidioEngine(PresidioConfig{AnalyzerURL: srv.URL})
	_, err := e.Detect(context.Background(), "x", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestPresidioLoaderProbesHealth(t *testing.T) {
	srv, _ := presidioServer(t, `[]`)
	eng, err := LoadPresidio(PresidioConfig{AnalyzerURL: srv.URL, AnonymizerURL: srv.URL})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindPresidio, eng.Kind())

	_, err = LoadPresidio(PresidioConfig{AnalyzerURL: "http://127.0.0.1:1"})(context.Background())
	assert.Error(t, err)
}

func spacyServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/ner", func(w http.ResponseWriter, r *http.Request) {
		var req spacyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultSpacyModel, req.Model)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSpacyDetect(t *testing.T) {
	srv := spacyServer(t, `{"ents":[
		{"label":"PERSON","start_char":0,"end_char":8,"text":"John Doe","description":"People, including fictional"},
		{"label":"GPE","start_char":18,"end_char":24,"text":"Berlin","description":"Countries, cities, states"},
		{"label":"NORP","start_char":0,"end_char":4,"text":"John","description":"Nationalities"}
	]}`)
	e := NewSpacyEngine(SpacyConfig{URL: srv.URL})

	got, err := e.Detect(context.Background(), "John Doe moved to Berlin", Options{Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.8, got[0].Score)
	assert.Equal(t, "spacy_ner", got[0].Explanation["recognizer"])
	assert.Equal(t, "PERSON", got[0].Explanation["entity_label"])
	assert.Equal(t, "GPE", got[1].EntityType)
	assert.Equal(t, 0.7, got[1].Score)
}

func TestSpacyThresholdUsesPolicyScore(t *testing.T) {
	srv := spacyServer(t, `{"ents":[
		{"label":"PERSON","start_char":0,"end_char":4},
		{"label":"DATE","start_char":5,"end_char":10}
	]}`)
	e := NewSpacyEngine(SpacyConfig{URL: srv.URL})
	got, err := e.Detect(context.Background(), "John today", Options{Threshold: 0.75})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PERSON", got[0].EntityType)
}

func TestSpacyConfidenceOverride(t *testing.T) {
	srv := spacyServer(t, `{"ents":[{"label":"DATE","start_char":0,"end_char":5}]}`)
	e := NewSpacyEngine(SpacyConfig{URL: srv.URL, Confidence: ConfidencePolicy{ByType: map[string]float64{"date": 0.95}}})
	got, err := e.Detect(context.Background(), "today", Options{Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.95, got[0].Score)
}

func TestSpacyLoaderFailsWhenDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := LoadSpacy(SpacyConfig{URL: srv.URL})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health status 503")
}

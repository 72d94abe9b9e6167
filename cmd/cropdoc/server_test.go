package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nanaosei/cropdoc"
	"github.com/nanaosei/cropdoc/crop"
	"github.com/nanaosei/cropdoc/internal/testutil"
)

func leafImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 190, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type upload struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files []upload) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

// newTestServer returns a server with a ready fake registry (tomato
// predicts healthy, cassava predicts mosaic) and an in-memory history DB.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cd, err := cropdoc.Init(cropdoc.InitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	db, err := cropdoc.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	srv := NewServer(cd, db, "0")
	reg := testutil.LoadRegistry(t, map[crop.Type]int{
		crop.Tomato:  0, // healthy
		crop.Cassava: 4, // mosaic
	})
	t.Cleanup(reg.Close)
	srv.SetRegistry(reg)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.serveHandler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var v map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestClassify(t *testing.T) {
	srv := newTestServer(t)
	img := leafImage(t)

	t.Run("success with fallback advice", func(t *testing.T) {
		body, ctype := multipartBody(t,
			map[string]string{"crop_type": "tomato", "notes": "new spots", "question": "is it serious?"},
			[]upload{{"image", "leaf.png", img}})
		w := doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)

		if expected, actual := http.StatusOK, w.Code; expected != actual {
			t.Fatalf("Expected status %d, got %d: %s", expected, actual, w.Body.String())
		}
		resp := decode(t, w)

		if expected, actual := "healthy", resp["predicted_disease"]; expected != actual {
			t.Errorf("Expected %q, got %v", expected, actual)
		}
		if resp["is_healthy"] != true {
			t.Error("Expected is_healthy true")
		}
		if expected, actual := "leaf.png", resp["filename"]; expected != actual {
			t.Errorf("Expected filename %q, got %v", expected, actual)
		}
		if resp["status"] != "success" {
			t.Errorf("Expected success status, got %v", resp["status"])
		}

		top, ok := resp["top_predictions"].([]any)
		if !ok || len(top) != 3 {
			t.Fatalf("Expected 3 top predictions, got %v", resp["top_predictions"])
		}

		// No advice backend is configured, so advice is the canned
		// fallback: five sections, no question answer.
		aiAdvice, ok := resp["ai_advice"].(map[string]any)
		if !ok {
			t.Fatalf("Expected ai_advice, got %v", resp["ai_advice"])
		}
		for _, section := range []string{"causes", "immediate_actions", "prevention", "treatment", "monitoring"} {
			if aiAdvice[section] == "" || aiAdvice[section] == nil {
				t.Errorf("Fallback advice missing %s", section)
			}
		}
		if _, present := aiAdvice["question_answer"]; present {
			t.Error("Fallback advice must not contain question_answer")
		}

		// The classification was recorded and can be fetched back.
		id, ok := resp["id"].(float64)
		if !ok || id < 1 {
			t.Fatalf("Expected a record id, got %v", resp["id"])
		}
		hw := doRequest(t, srv, http.MethodGet, "/api/history/1", nil, "")
		if hw.Code != http.StatusOK {
			t.Fatalf("history fetch failed: %d", hw.Code)
		}
		hist := decode(t, hw)
		if hist["predicted_disease"] != "healthy" {
			t.Errorf("History mismatch: %v", hist)
		}
	})

	t.Run("advice can be disabled", func(t *testing.T) {
		body, ctype := multipartBody(t,
			map[string]string{"crop_type": "cassava", "advice": "false"},
			[]upload{{"image", "leaf.png", img}})
		w := doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)

		resp := decode(t, w)
		if _, present := resp["ai_advice"]; present {
			t.Error("Expected no ai_advice when disabled")
		}
	})

	t.Run("unsupported crop", func(t *testing.T) {
		body, ctype := multipartBody(t,
			map[string]string{"crop_type": "banana"},
			[]upload{{"image", "leaf.png", img}})
		w := doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)

		if expected, actual := http.StatusBadRequest, w.Code; expected != actual {
			t.Fatalf("Expected status %d, got %d", expected, actual)
		}
		detail := decode(t, w)["detail"].(string)
		for _, c := range []string{"cashew", "cassava", "maize", "tomato"} {
			if !strings.Contains(detail, c) {
				t.Errorf("Error detail %q does not list %q", detail, c)
			}
		}
	})

	t.Run("empty image", func(t *testing.T) {
		body, ctype := multipartBody(t,
			map[string]string{"crop_type": "maize"},
			[]upload{{"image", "leaf.png", nil}})
		w := doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)

		if expected, actual := http.StatusBadRequest, w.Code; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})

	t.Run("missing image field", func(t *testing.T) {
		body, ctype := multipartBody(t, map[string]string{"crop_type": "maize"}, nil)
		w := doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)

		if expected, actual := http.StatusBadRequest, w.Code; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})
}

func TestClassifyBeforeReady(t *testing.T) {
	cd, err := cropdoc.Init(cropdoc.InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	db, err := cropdoc.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	srv := NewServer(cd, db, "0") // registry never set

	body, ctype := multipartBody(t,
		map[string]string{"crop_type": "maize"},
		[]upload{{"image", "leaf.png", leafImage(t)}})
	w := doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)

	if expected, actual := http.StatusServiceUnavailable, w.Code; expected != actual {
		t.Errorf("Expected status %d, got %d", expected, actual)
	}

	hw := doRequest(t, srv, http.MethodGet, "/health", nil, "")
	if decode(t, hw)["models_loaded"] != false {
		t.Error("Expected models_loaded false before readiness")
	}
}

func TestBatchClassify(t *testing.T) {
	srv := newTestServer(t)
	img := leafImage(t)

	t.Run("isolation", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		for _, name := range []string{"a.png", "b.png", "c.png"} {
			fw, _ := mw.CreateFormFile("images", name)
			fw.Write(img)
		}
		for _, ct := range []string{"maize", "banana", "tomato"} {
			mw.WriteField("crop_types", ct)
		}
		mw.Close()

		w := doRequest(t, srv, http.MethodPost, "/api/batch-classify", body, mw.FormDataContentType())
		if expected, actual := http.StatusOK, w.Code; expected != actual {
			t.Fatalf("Expected status %d, got %d: %s", expected, actual, w.Body.String())
		}

		resp := decode(t, w)
		if expected, actual := float64(3), resp["total_images"]; expected != actual {
			t.Errorf("Expected %v total, got %v", expected, actual)
		}
		if expected, actual := float64(2), resp["successful_classifications"]; expected != actual {
			t.Errorf("Expected %v successes, got %v", expected, actual)
		}

		results := resp["results"].([]any)
		second := results[1].(map[string]any)
		if second["status"] != "error" {
			t.Errorf("Expected item 1 to be an error, got %v", second)
		}
	})

	t.Run("over the ceiling runs nothing", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		for i := 0; i < 11; i++ {
			fw, _ := mw.CreateFormFile("images", "x.png")
			fw.Write(img)
			mw.WriteField("crop_types", "maize")
		}
		mw.Close()

		w := doRequest(t, srv, http.MethodPost, "/api/batch-classify", body, mw.FormDataContentType())
		if expected, actual := http.StatusBadRequest, w.Code; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		fw, _ := mw.CreateFormFile("images", "x.png")
		fw.Write(img)
		mw.WriteField("crop_types", "maize")
		mw.WriteField("crop_types", "tomato")
		mw.Close()

		w := doRequest(t, srv, http.MethodPost, "/api/batch-classify", body, mw.FormDataContentType())
		if expected, actual := http.StatusBadRequest, w.Code; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})
}

func TestCropEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/api/crops", nil, "")
		resp := decode(t, w)

		if expected, actual := float64(4), resp["total_crops"]; expected != actual {
			t.Errorf("Expected %v crops, got %v", expected, actual)
		}
		details := resp["crop_details"].(map[string]any)
		maize := details["maize"].(map[string]any)
		if maize["model_loaded"] != true {
			t.Error("Expected maize model_loaded true")
		}
		if classes := maize["classes"].([]any); len(classes) != 7 {
			t.Errorf("Expected 7 maize classes, got %d", len(classes))
		}
	})

	t.Run("detail", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/api/crops/cassava", nil, "")
		resp := decode(t, w)

		if expected, actual := float64(5), resp["total_classes"]; expected != actual {
			t.Errorf("Expected %v classes, got %v", expected, actual)
		}
	})

	t.Run("unknown crop detail", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/api/crops/banana", nil, "")
		if expected, actual := http.StatusNotFound, w.Code; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/health", nil, "")
	resp := decode(t, w)
	if resp["status"] != "healthy" || resp["models_loaded"] != true {
		t.Errorf("Unexpected health response %v", resp)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	srv := newTestServer(t)
	img := leafImage(t)

	for i := 0; i < 3; i++ {
		body, ctype := multipartBody(t,
			map[string]string{"crop_type": "cassava", "advice": "false"},
			[]upload{{"image", "leaf.png", img}})
		doRequest(t, srv, http.MethodPost, "/api/classify", body, ctype)
	}

	t.Run("recent list", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/api/history?limit=2", nil, "")
		resp := decode(t, w)
		if expected, actual := float64(2), resp["total"]; expected != actual {
			t.Errorf("Expected %v items, got %v", expected, actual)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/api/history/999", nil, "")
		if expected, actual := http.StatusNotFound, w.Code; expected != actual {
			t.Errorf("Expected status %d, got %d", expected, actual)
		}
	})
}

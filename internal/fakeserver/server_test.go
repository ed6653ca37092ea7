package fakeserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 48, 32))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, h http.Handler, path string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if data != nil {
		part, err := w.CreateFormFile("file", "chest.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	srv := NewServer(Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestPredictTriple(t *testing.T) {
	srv := NewServer(Options{})
	rec := upload(t, srv.Handler(), "/api/predict/pneumonia?explain=1", testPNG(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	body := decode(t, rec)
	assert.Equal(t, []interface{}{"NORMAL", "PNEUMONIA"}, body["classes"])
	assert.Equal(t, "chest.png", body["filename"])
	assert.Equal(t, true, body["explain_requested"])
	assert.Nil(t, body["explain_image"])
	for _, key := range []string{"explain_original", "explain_overlay", "explain_heatmap"} {
		b64, ok := body[key].(string)
		require.True(t, ok, key)
		raw, err := base64.StdEncoding.DecodeString(b64)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, RenderSize, img.Bounds().Dx())
	}
}

func TestPredictWithoutExplain(t *testing.T) {
	srv := NewServer(Options{})
	rec := upload(t, srv.Handler(), "/api/predict/tuberculosis?explain=0", testPNG(t))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, false, body["explain_requested"])
	assert.NotContains(t, body, "explain_overlay")
}

func TestPredictIsDeterministic(t *testing.T) {
	srv := NewServer(Options{})
	data := testPNG(t)
	a := decode(t, upload(t, srv.Handler(), "/api/predict/lung_cancer", data))
	b := decode(t, upload(t, srv.Handler(), "/api/predict/lung_cancer", data))
	assert.Equal(t, a["probs"], b["probs"])
	assert.Equal(t, a["label"], b["label"])
}

func TestPredictLegacy(t *testing.T) {
	srv := NewServer(Options{Mode: ModeLegacy})
	body := decode(t, upload(t, srv.Handler(), "/api/predict/tb?explain=1", testPNG(t)))
	assert.IsType(t, "", body["explain_image"])
	assert.NotContains(t, body, "explain_overlay")
	assert.Equal(t, []interface{}{"NORMAL", "TB"}, body["classes"])
}

func TestPredictTopK(t *testing.T) {
	srv := NewServer(Options{Mode: ModeTopK})
	body := decode(t, upload(t, srv.Handler(), "/api/predict/lungcancer?explain=1", testPNG(t)))

	assert.Equal(t, "lung_cancer", body["disease"])
	labels := body["topk_labels"].([]interface{})
	scores := body["topk_scores"].([]interface{})
	require.Len(t, labels, 3)
	require.Len(t, scores, 3)
	assert.GreaterOrEqual(t, scores[0].(float64), scores[1].(float64))
	assert.GreaterOrEqual(t, scores[1].(float64), scores[2].(float64))
	assert.Equal(t, labels[0], body["label"])
	assert.IsType(t, "", body["heatmap_b64"])
	assert.NotContains(t, body, "classes")
}

func TestPredictErrors(t *testing.T) {
	srv := NewServer(Options{MaxUploadBytes: 1 << 20})

	rec := upload(t, srv.Handler(), "/api/predict/covid", testPNG(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Unknown disease 'covid'", decode(t, rec)["detail"])

	rec = upload(t, srv.Handler(), "/api/predict/pneumonia", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decode(t, rec)["detail"])

	rec = upload(t, srv.Handler(), "/api/predict/pneumonia", []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Uploaded file is not a valid image", decode(t, rec)["detail"])

	rec = upload(t, srv.Handler(), "/api/predict/pneumonia", make([]byte, 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestScores(t *testing.T) {
	probs := Scores([]byte("abc"), 3)
	require.Len(t, probs, 3)
	sum := 0.0
	for _, p := range probs {
		assert.Greater(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, probs, Scores([]byte("abc"), 3))
}

func TestRender(t *testing.T) {
	ex, err := Render(image.NewGray(image.Rect(0, 0, 300, 200)), []byte("seed"))
	require.NoError(t, err)
	for _, img := range []image.Image{ex.Original, ex.Overlay, ex.Heatmap} {
		b := img.Bounds()
		assert.Equal(t, RenderSize, b.Dx())
		assert.Equal(t, RenderSize, b.Dy())
	}

	_, err = Render(nil, nil)
	assert.Error(t, err)
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/editor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, ts testServer, preset string, w, h int) editor.State {
	t.Helper()

	rec := ts.do(multipartRequest(t, "/v1/sessions", map[string]string{"preset": preset}, "image/png", buildPNG(t, w, h)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var st editor.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "/v1/sessions/"+st.ID, rec.Header().Get("Location"))
	return st
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) editor.State {
	t.Helper()
	var st editor.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func TestCreateSessionStartsWithPresetCrop(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, "instagram", 1600, 900)

	assert.Equal(t, "instagram", st.Preset)
	assert.Equal(t, domain.Dimensions{Width: 1600, Height: 900}, st.Original)
	assert.Equal(t, domain.CropRectangle{X: 350, Y: 0, Width: 900, Height: 900}, st.Crop)
	assert.Equal(t, 1.0, st.Zoom)
	assert.Equal(t, 1, ts.sessions.Len())
}

func TestCreateSessionUnknownPreset(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(multipartRequest(t, "/v1/sessions", map[string]string{"preset": "myspace"}, "image/png", buildPNG(t, 10, 10)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ts.sessions.Len())
}

func TestUpdateSessionAspectLock(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, domain.PresetResize, 1600, 900)

	rec := ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, map[string]any{"width": 800}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, editor.ResizeSettings{Width: 800, Height: 450, MaintainAspect: true}, decodeState(t, rec).Resize)

	rec = ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, map[string]any{"height": 300}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, editor.ResizeSettings{Width: 533, Height: 300, MaintainAspect: true}, decodeState(t, rec).Resize)

	rec = ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, map[string]any{"width": 1920, "height": 1080}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, editor.ResizeSettings{Width: 1920, Height: 1080, MaintainAspect: true}, decodeState(t, rec).Resize)

	rec = ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, map[string]any{"maintain_aspect_ratio": false, "width": 100}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, editor.ResizeSettings{Width: 100, Height: 1080, MaintainAspect: false}, decodeState(t, rec).Resize)
}

func TestUpdateSessionValidation(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, domain.PresetCropImage, 200, 100)

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"zoom above range", map[string]any{"zoom": 3.5}, "zoom must be at most 3"},
		{"rotation below range", map[string]any{"rotation": -181}, "rotation must be at least -180"},
		{"width above range", map[string]any{"width": 5001}, "width must be at most 5000"},
		{"degenerate crop", map[string]any{"crop": map[string]any{"x": 0, "y": 0, "width": 0, "height": 10}}, "width must be greater than 0"},
		{"unknown aspect", map[string]any{"aspect": "5:4"}, "aspect must be one of [Free 1:1 4:3 16:9 3:2]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.want, errorMessage(t, rec))
		})
	}
}

func TestUpdateSessionAspectRecentresCrop(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, domain.PresetCropImage, 1920, 1080)
	assert.Equal(t, domain.CropRectangle{Width: 1920, Height: 1080}, st.Crop)

	rec := ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, map[string]any{"aspect": "1:1", "zoom": 2.5}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeState(t, rec)
	assert.Equal(t, domain.CropRectangle{X: 420, Y: 0, Width: 1080, Height: 1080}, got.Crop)
	assert.Equal(t, 2.5, got.Zoom)
	require.NotNil(t, got.Aspect)
	assert.Equal(t, 1.0, *got.Aspect)
}

func TestRotateWraps(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, domain.PresetCropImage, 40, 40)

	rec := ts.do(jsonRequest(t, http.MethodPost, "/v1/sessions/"+st.ID+"/rotate", map[string]string{"direction": "left"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Rotation(-90), decodeState(t, rec).Rotation)

	for range 2 {
		rec = ts.do(jsonRequest(t, http.MethodPost, "/v1/sessions/"+st.ID+"/rotate", map[string]string{"direction": "left"}))
	}
	assert.Equal(t, domain.Rotation(90), decodeState(t, rec).Rotation)

	rec = ts.do(jsonRequest(t, http.MethodPost, "/v1/sessions/"+st.ID+"/rotate", map[string]string{"direction": "up"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionCropAndDownload(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, "youtube", 640, 480)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/v1/sessions/"+st.ID+"/crop", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Result      editor.Output `json:"result"`
		DownloadURL string        `json:"download_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/v1/sessions/"+st.ID+"/download", body.DownloadURL)
	assert.Equal(t, 640, body.Result.Width)
	assert.Equal(t, 360, body.Result.Height)
	assert.Equal(t, "youtube-cropped-image.jpg", body.Result.Filename)

	rec = ts.do(httptest.NewRequest(http.MethodGet, body.DownloadURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="youtube-cropped-image.jpg"`, rec.Header().Get("Content-Disposition"))
	w, h := jpegSize(t, rec.Body.Bytes())
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	rec = ts.do(httptest.NewRequest(http.MethodGet, body.DownloadURL, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Failed to download image. Please try again.", errorMessage(t, rec))
}

func TestSessionResize(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, domain.PresetResize, 300, 200)

	rec := ts.do(jsonRequest(t, http.MethodPatch, "/v1/sessions/"+st.ID, map[string]any{"width": 64, "height": 48}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/v1/sessions/"+st.ID+"/resize", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/sessions/"+st.ID+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="resized-image.jpg"`, rec.Header().Get("Content-Disposition"))
	w, h := jpegSize(t, rec.Body.Bytes())
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestDeleteSessionRevokesReferences(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	st := openSession(t, ts, domain.PresetCropImage, 50, 50)
	ts.do(httptest.NewRequest(http.MethodPost, "/v1/sessions/"+st.ID+"/crop", nil))
	assert.Equal(t, 2, ts.blobs.Len())

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+st.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, ts.blobs.Len())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/sessions/"+st.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+st.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	for _, path := range []string{"/v1/sessions/nope/crop", "/v1/sessions/nope/resize"} {
		rec := ts.do(httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestTransformFailureMapping(t *testing.T) {
	status, msg := transformFailure(editor.ErrStale, domain.OperationCrop)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, msg)

	status, msg = transformFailure(assert.AnError, domain.OperationResize)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Failed to resize image. Please try again.", msg)

	status, msg = transformFailure(assert.AnError, domain.OperationCrop)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Failed to crop image. Please try again.", msg)
}

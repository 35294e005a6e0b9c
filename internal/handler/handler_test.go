package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostelattend/internal/apperr"
	"hostelattend/internal/attendance"
	"hostelattend/internal/auth"
	"hostelattend/internal/camera"
	"hostelattend/internal/capture"
	"hostelattend/internal/config"
	"hostelattend/internal/embedding"
	"hostelattend/internal/enroll"
	"hostelattend/internal/face"
	"hostelattend/internal/metrics"
	"hostelattend/internal/photos"
	"hostelattend/internal/queue"
	"hostelattend/internal/report"
	"hostelattend/internal/store"
)

// oneFace finds a single face covering the middle of every image.
type oneFace struct{}

func (oneFace) Detect(_ context.Context, img image.Image) ([]face.Detection, error) {
	b := img.Bounds()
	return []face.Detection{{Box: b.Inset(b.Dx() / 4), Vector: embedding.Vector{0.1, 0.2, 0.3}}}, nil
}

// stillDevice returns the same grey frame at roughly 100 fps.
type stillDevice struct{ img image.Image }

func (d stillDevice) Read(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return d.img, nil
	}
}

func (stillDevice) Close() error { return nil }

type staticCheck bool

func (s staticCheck) Healthy(context.Context) bool { return bool(s) }

type fixture struct {
	router *gin.Engine
	ledger *attendance.Service
	signer *auth.Signer
	camera *camera.Manager
}

func newFixture(t *testing.T, mutate func(*config.App)) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.App{
		JWTIssuer:         "test",
		JWTSigningKey:     "test-key",
		AccessTTL:         time.Minute,
		RefreshTTL:        time.Hour,
		OperatorKey:       "letmein",
		MaxUploadBytes:    1 << 20,
		AllowedExtensions: []string{"png", "jpg", "jpeg"},
		UploadDir:         filepath.Join(dir, "photos"),
		JPEGQuality:       70,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	db, err := store.NewDB(ctx, filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	repo := attendance.NewRepository(db)
	ledger := attendance.NewService(repo, m, log)
	emb, err := embedding.NewStore(filepath.Join(dir, "encodings"), log)
	require.NoError(t, err)
	ph, err := photos.NewStore(cfg.UploadDir, nil, log)
	require.NoError(t, err)
	matcher := face.NewMatcher(oneFace{})

	cam := camera.NewManager(camera.Deps{
		Opener: capture.OpenerFunc(func(int) (capture.Device, error) {
			return stillDevice{img: image.NewGray(image.Rect(0, 0, 64, 48))}, nil
		}),
		Recognizer: matcher,
		Gallery:    emb,
		Names:      ledger,
		Marks:      queue.NewInMemory(8),
		Metrics:    m,
		Logger:     log,
	})
	t.Cleanup(cam.Close)

	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	h := New(Deps{
		Ledger:  ledger,
		Enroll:  enroll.NewService(ledger, matcher, emb, ph, cfg.AllowedFile, log),
		Reports: report.NewService(repo),
		Camera:  cam,
		Signer:  signer,
		Metrics: m,
		Checks:  map[string]Checker{"db": db},
		Config:  cfg,
		Logger:  log,
	})
	return fixture{router: NewRouter(h, reg), ledger: ledger, signer: signer, camera: cam}
}

func (f fixture) do(t *testing.T, method, path string, body io.Reader, contentType string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f fixture) sendJSON(t *testing.T, method, path string, v any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return f.do(t, method, path, body, "application/json", header...)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// studentForm builds a multipart body. photoName empty means no photo.
func studentForm(t *testing.T, fields map[string]string, photoName string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photoName != "" {
		fw, err := mw.CreateFormFile("photo", photoName)
		require.NoError(t, err)
		require.NoError(t, png.Encode(fw, image.NewGray(image.Rect(0, 0, 40, 40))))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f fixture) addStudent(t *testing.T, key, name string) int64 {
	t.Helper()
	body, ct := studentForm(t, map[string]string{"student_id": key, "name": name}, "")
	w := f.do(t, http.MethodPost, "/students/add", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode(t, w)["student"].(map[string]any)
	return int64(st["id"].(float64))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindFaceDetection, http.StatusUnprocessableEntity},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindDevice, http.StatusServiceUnavailable},
		{apperr.KindIO, http.StatusInternalServerError},
		{apperr.KindDecode, http.StatusInternalServerError},
		{apperr.KindPersistence, http.StatusInternalServerError},
		{apperr.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), string(tt.kind))
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["db"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestHealthzDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(Deps{
		Camera: camera.NewManager(camera.Deps{}),
		Checks: map[string]Checker{"redis": staticCheck(false)},
	})
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":false`)
}

func TestOperatorAuth(t *testing.T) {
	f := newFixture(t, func(c *config.App) { c.AuthRequired = true })

	w := f.sendJSON(t, http.MethodPost, "/attendance/departments/add", map[string]string{"code": "A", "name": "Block A"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.sendJSON(t, http.MethodPost, "/auth/token", map[string]string{"operator_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.sendJSON(t, http.MethodPost, "/auth/token", map[string]string{"operator_key": "letmein", "name": "desk"})
	require.Equal(t, http.StatusCreated, w.Code)
	var pair auth.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))

	w = f.sendJSON(t, http.MethodPost, "/attendance/departments/add",
		map[string]string{"code": "A", "name": "Block A"}, "Authorization", "Bearer "+pair.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.sendJSON(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	w = f.sendJSON(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Reads stay open.
	w = f.do(t, http.MethodGet, "/attendance/departments/api/list", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMarkAlreadyMarked(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent(t, "S1", "Asha")

	w := f.sendJSON(t, http.MethodPost, "/attendance/api/mark", map[string]any{"student_db_id": "S1", "confidence": 0.9})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Attendance marked for Asha", body["message"])
	rec := body["record"].(map[string]any)
	assert.Equal(t, "api", rec["marked_by"])
	assert.Equal(t, 90.0, rec["confidence"])

	w = f.sendJSON(t, http.MethodPost, "/attendance/api/mark", map[string]any{"student_db_id": "S1"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["already_marked"])

	w = f.do(t, http.MethodGet, "/attendance/api/records", nil, "")
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = f.sendJSON(t, http.MethodPost, "/attendance/api/mark", map[string]any{"student_db_id": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.sendJSON(t, http.MethodPost, "/attendance/api/mark", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualMarkAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	id := f.addStudent(t, "S1", "Asha")

	w := f.sendJSON(t, http.MethodPost, "/attendance/api/manual", map[string]any{"student_id": id, "date": "2024-03-01", "status": "late"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Attendance marked manually", decode(t, w)["message"])

	w = f.sendJSON(t, http.MethodPost, "/attendance/api/manual", map[string]any{"student_id": id, "date": "2024-03-01", "status": "absent"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Attendance updated", body["message"])
	recID := int64(body["record"].(map[string]any)["id"].(float64))

	w = f.sendJSON(t, http.MethodPost, "/attendance/api/manual", map[string]any{"student_id": id, "status": "asleep"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/attendance/api/records?date=2024-03-01", nil, "")
	page := decode(t, w)
	assert.EqualValues(t, 1, page["total"])
	assert.Equal(t, "absent", page["records"].([]any)[0].(map[string]any)["status"])

	path := "/attendance/api/delete/" + jsonID(recID)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/attendance/api/delete/abc", nil, "").Code)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestDepartments(t *testing.T) {
	f := newFixture(t, nil)
	w := f.sendJSON(t, http.MethodPost, "/attendance/departments/add", map[string]string{"code": "A", "name": "Block A"})
	require.Equal(t, http.StatusOK, w.Code)
	id := int64(decode(t, w)["department"].(map[string]any)["id"].(float64))

	w = f.sendJSON(t, http.MethodPost, "/attendance/departments/add", map[string]string{"code": "A", "name": "Again"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Department code already exists", decode(t, w)["error"])

	w = f.do(t, http.MethodGet, "/attendance/departments/api/list", nil, "")
	var list []attendance.Department
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Block A", list[0].Name)

	path := "/attendance/departments/" + jsonID(id) + "/delete"
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, nil, "").Code)
}

func TestStudentLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	body, ct := studentForm(t, map[string]string{"student_id": "S9", "name": "Ravi", "year": "2"}, "ravi.png")
	w := f.do(t, http.MethodPost, "/students/add", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode(t, w)["student"].(map[string]any)
	assert.Equal(t, true, st["has_face_data"])
	assert.True(t, strings.HasPrefix(st["photo_path"].(string), "student_photos/"))
	id := jsonID(int64(st["id"].(float64)))

	w = f.do(t, http.MethodGet, "/"+st["photo_path"].(string), nil, "")
	// Photos are served from /static/student_photos.
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodGet, "/static/"+st["photo_path"].(string), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	body, ct = studentForm(t, map[string]string{"student_id": "S9", "name": "Dup"}, "")
	w = f.do(t, http.MethodPost, "/students/add", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = studentForm(t, map[string]string{"name": "Ravi K", "year": "3"}, "")
	w = f.do(t, http.MethodPost, "/students/"+id+"/edit", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/students/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "Ravi K", got["name"])
	assert.EqualValues(t, 3, got["year"])

	w = f.do(t, http.MethodGet, "/students/api/list", nil, "")
	var list []attendance.Student
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/students/"+id+"/delete", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/students/"+id, nil, "").Code)
}

func TestAddStudentRejectsUploads(t *testing.T) {
	f := newFixture(t, func(c *config.App) { c.MaxUploadBytes = 2048 })

	body, ct := studentForm(t, map[string]string{"student_id": "S1", "name": "A"}, "photo.gif")
	w := f.do(t, http.MethodPost, "/students/add", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := map[string]string{"student_id": "S1", "name": strings.Repeat("x", 4096)}
	body, ct = studentForm(t, big, "")
	w = f.do(t, http.MethodPost, "/students/add", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	body, ct = studentForm(t, map[string]string{"student_id": "S1", "name": "A", "year": "first"}, "")
	w = f.do(t, http.MethodPost, "/students/add", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportsAndExport(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent(t, "S1", "Asha")
	w := f.sendJSON(t, http.MethodPost, "/attendance/api/mark", map[string]any{"student_db_id": "S1", "confidence": 0.8})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/reports/api/summary", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total_records"])

	w = f.do(t, http.MethodGet, "/reports/api/student_report", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []report.StudentRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 100.0, rows[0].AttendancePct)

	w = f.do(t, http.MethodGet, "/reports/api/export_csv?start=2000-01-01&end=2100-01-01", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="hostel_attendance_2000-01-01_2100-01-01.csv"`, w.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Student ID,Name,Department"))

	w = f.do(t, http.MethodGet, "/reports/api/export_xlsx", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = f.do(t, http.MethodGet, "/dashboard/api/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["today_attendance"])
}

func TestFeedPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/camera/feed", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "--frame\r\nContent-Type: image/jpeg\r\n"))
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte{0xFF, 0xD8}))
}

func TestCameraStartUnknownDepartment(t *testing.T) {
	f := newFixture(t, nil)
	w := f.sendJSON(t, http.MethodPost, "/camera/start", map[string]any{"department_id": 42})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Nil(t, f.camera.Current())
}

func TestCameraLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	w := f.sendJSON(t, http.MethodPost, "/camera/start", map[string]any{"tolerance": 0.4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Camera started", decode(t, w)["message"])

	w = f.sendJSON(t, http.MethodPost, "/camera/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.sendJSON(t, http.MethodPost, "/camera/start", map[string]any{"tolerance": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/camera/status", nil, "")
	status := decode(t, w)
	assert.Equal(t, true, status["running"])
	assert.Equal(t, 0.4, status["tolerance"])

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/camera/feed", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	cancel()

	w = f.sendJSON(t, http.MethodPost, "/camera/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/camera/status", nil, "")
	assert.Equal(t, false, decode(t, w)["running"])

	w = f.sendJSON(t, http.MethodPost, "/camera/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code, "stopping an idle camera succeeds")
}

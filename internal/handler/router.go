package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostelattend/internal/auth"
	"hostelattend/internal/httpmiddleware"
)

// NewRouter builds the gin engine with middleware and every route. gatherer
// backs /metrics; a nil gatherer uses the default registry.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/camera/feed"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(h.observe())
	if h.cfg.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewRateLimiter(h.cfg.RateLimitPerMin, h.cfg.RateLimitPerMin).GinMiddleware())
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", h.Healthz)
	r.POST("/auth/token", h.IssueToken)
	r.POST("/auth/refresh", h.RefreshToken)

	operator := auth.RequireOperator(h.signer, h.cfg.AuthRequired)

	cam := r.Group("/camera")
	cam.GET("/feed", h.Feed)
	cam.GET("/status", h.CameraStatus)
	cam.POST("/start", operator, h.StartCamera)
	cam.POST("/stop", operator, h.StopCamera)

	att := r.Group("/attendance")
	att.GET("/api/records", h.Records)
	att.POST("/api/mark", operator, h.Mark)
	att.POST("/api/manual", operator, h.ManualMark)
	att.DELETE("/api/delete/:id", operator, h.DeleteRecord)
	att.GET("/departments/api/list", h.Departments)
	att.POST("/departments/add", operator, h.AddDepartment)
	att.DELETE("/departments/:id/delete", operator, h.DeleteDepartment)

	st := r.Group("/students")
	st.GET("/api/list", h.Students)
	st.GET("/:id", h.Student)
	st.POST("/add", operator, h.AddStudent)
	st.POST("/import", operator, h.ImportStudents)
	st.POST("/:id/edit", operator, h.EditStudent)
	st.POST("/:id/delete", operator, h.DeleteStudent)

	rep := r.Group("/reports/api")
	rep.GET("/summary", h.Summary)
	rep.GET("/student_report", h.StudentReport)
	rep.GET("/export_csv", h.ExportCSV)
	rep.GET("/export_xlsx", h.ExportXLSX)
	r.GET("/dashboard/api/stats", h.Dashboard)

	if dir := h.cfg.UploadDir; dir != "" {
		r.Static("/static/student_photos", dir)
	}
	if dir := h.cfg.WebDir; dir != "" {
		r.Static("/web", dir)
		r.StaticFile("/", filepath.Join(dir, "index.html"))
	}
	return r
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// observe records request counts and latency by route template.
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.HTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// Healthz reports each backing service. Any unreachable one turns the
// response into 503.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "camera": h.camera.Current() != nil}
	for name, chk := range h.checks {
		ok := chk != nil && chk.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

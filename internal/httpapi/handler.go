package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chapel/internal/apperr"
	"chapel/internal/attendance"
	"chapel/internal/auth"
	"chapel/internal/queue"
	"chapel/internal/util"
	"chapel/internal/warning"
)

// maxManifestBytes caps a single uploaded manifest.
const maxManifestBytes = 8 << 20

// Uploads is the attendance pipeline as seen by the API.
type Uploads interface {
	ProcessUpload(ctx context.Context, req attendance.UploadRequest) (attendance.UploadResult, error)
	GetUpload(ctx context.Context, id string) (attendance.UploadDetail, error)
	Confirm(ctx context.Context, uploadID, actorID string) (attendance.ConfirmResult, error)
	Cancel(ctx context.Context, uploadID, actorID string) error
	ListBatchVersions(ctx context.Context, batchID string) ([]attendance.BatchVersion, error)
}

// Warnings is the weekly warning generator as seen by the API.
type Warnings interface {
	Generate(ctx context.Context, weekStart string, threshold int) (warning.Result, error)
	ListSnapshots(ctx context.Context, weekStart, status string) ([]warning.Snapshot, error)
	MarkSent(ctx context.Context, studentID, weekStart string) (warning.Snapshot, error)
}

// Coverage answers exeat questions.
type Coverage interface {
	IsCovered(ctx context.Context, studentID string, date time.Time) (bool, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the chapel attendance API.
type Handler struct {
	uploads   Uploads
	warnings  Warnings
	coverage  Coverage
	jobs      queue.Queue
	threshold int
	health    map[string]HealthCheck
	logger    *zap.Logger
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Uploads ----------

type uploadJSON struct {
	ServiceID   string `json:"service_id" binding:"required"`
	LevelID     string `json:"level_id" binding:"required"`
	Manifest    string `json:"manifest" binding:"required"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

// CreateUpload accepts a manifest either as multipart (file, service_id, level_id)
// or as JSON with the manifest inline.
func (h *Handler) CreateUpload(c *gin.Context) {
	req := attendance.UploadRequest{UploadedBy: actor(c)}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		req.ServiceID = c.PostForm("service_id")
		req.LevelID = c.PostForm("level_id")
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			badRequest(c, "file field required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxManifestBytes+1))
		if err != nil {
			badRequest(c, "read file failed")
			return
		}
		if len(data) > maxManifestBytes {
			badRequest(c, "manifest too large")
			return
		}
		req.Content = data
		req.FileName = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
	} else {
		var body uploadJSON
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
		req.ServiceID = body.ServiceID
		req.LevelID = body.LevelID
		req.Content = []byte(body.Manifest)
		req.ContentType = body.ContentType
		req.FileName = body.FileName
	}

	res, err := h.uploads.ProcessUpload(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) GetUpload(c *gin.Context) {
	detail, err := h.uploads.GetUpload(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) ConfirmUpload(c *gin.Context) {
	res, err := h.uploads.Confirm(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CancelUpload(c *gin.Context) {
	if err := h.uploads.Cancel(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ListBatchVersions(c *gin.Context) {
	versions, err := h.uploads.ListBatchVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// ---------- Warnings ----------

type generateRequest struct {
	WeekStart string `json:"week_start" binding:"required"`
	Threshold *int   `json:"threshold"`
	Async     bool   `json:"async"`
}

// GenerateWarnings runs the weekly pass inline, or queues it when async is set.
func (h *Handler) GenerateWarnings(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	threshold := h.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	if req.Async {
		if _, err := util.ParseDate(req.WeekStart); err != nil {
			badRequest(c, "week_start: "+err.Error())
			return
		}
		if threshold < 1 {
			badRequest(c, "threshold must be at least 1")
			return
		}
		if h.jobs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue not configured", "code": "UNAVAILABLE", "retryable": false})
			return
		}
		msg, err := queue.NewGenerateWarnings(req.WeekStart, threshold)
		if err == nil {
			err = h.jobs.Publish(c.Request.Context(), msg)
		}
		if err != nil {
			h.logger.Error("queue generate warnings", zap.String("week_start", req.WeekStart), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not queue job", "code": "DB_ERROR", "retryable": true})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "week_start": req.WeekStart, "threshold": threshold})
		return
	}

	res, err := h.warnings.Generate(c.Request.Context(), req.WeekStart, threshold)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListWarnings(c *gin.Context) {
	snaps, err := h.warnings.ListSnapshots(c.Request.Context(), c.Query("week_start"), c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": snaps})
}

type markSentRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	WeekStart string `json:"week_start" binding:"required"`
}

func (h *Handler) MarkWarningSent(c *gin.Context) {
	var req markSentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	snap, err := h.warnings.MarkSent(c.Request.Context(), req.StudentID, req.WeekStart)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ---------- Exeats ----------

func (h *Handler) ExeatCoverage(c *gin.Context) {
	date, err := util.ParseDate(c.Query("date"))
	if err != nil {
		badRequest(c, "date: "+err.Error())
		return
	}
	covered, err := h.coverage.IsCovered(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, apperr.DB("exeat coverage", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": c.Param("id"), "date": util.FormatDate(date), "covered": covered})
}

func actor(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/middleware"
	"github.com/radprogressor-server/internal/vision"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	maxBytes := s.configManager.GetServerConfig().MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(c, domain.NewValidationError("image", "upload exceeds size limit", tooLarge.Limit))
			return
		}
		s.respondError(c, domain.NewValidationError("image", "image file is required", nil))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.respondError(c, domain.NewValidationError("image", "unreadable upload", nil))
		return
	}
	defer file.Close()

	img, err := vision.DecodeNormalized(file, fileHeader.Filename)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.analyzer.Analyze(c.Request.Context(), &domain.Submission{
		PatientID:  c.PostForm("patient_id"),
		StudyDate:  c.PostForm("study_date"),
		Image:      img,
		ReportText: c.PostForm("report"),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTimeline(c *gin.Context) {
	timeline, err := s.patients.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snapshot, err := s.patients.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// respondError writes err as a PipelineError with the status for its code.
func (s *Server) respondError(c *gin.Context, err error) {
	pe := domain.AsPipelineError(err, c.GetString(middleware.RequestIDKey))
	status := StatusForCode(pe.Code)

	entry := s.logger.WithFields(logrus.Fields{
		"request_id": pe.RequestID,
		"code":       pe.Code,
		"status":     status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.AbortWithStatusJSON(status, pe)
}

// StatusForCode maps an error code onto its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case domain.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeClassifierUnavailable, domain.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

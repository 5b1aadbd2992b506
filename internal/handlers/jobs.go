package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/services"
)

type JobsHandler struct {
	jobs *services.JobService
}

func NewJobsHandler(jobs *services.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

type submitJobRequest struct {
	ReportID    string `json:"reportId" binding:"required"`
	CsvUploadID string `json:"csvUploadId"`
	CsvContent  string `json:"csvContent"`
}

// POST /api/jobs
func (h *JobsHandler) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	reportID, err := uuid.Parse(req.ReportID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_report_id", err)
		return
	}
	in := services.SubmitInput{ReportID: reportID, CsvContent: req.CsvContent}
	if req.CsvUploadID != "" {
		uploadID, err := uuid.Parse(req.CsvUploadID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_csv_upload_id", err)
			return
		}
		in.CsvUploadID = &uploadID
	}

	job, err := h.jobs.Submit(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, repos.ErrNotFound):
			RespondError(c, http.StatusNotFound, "report_not_found", err)
		case errors.Is(err, services.ErrJobConflict):
			RespondError(c, http.StatusConflict, "job_conflict", err)
		default:
			RespondError(c, http.StatusInternalServerError, "job_submit_failed", err)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}

	RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_cancel_failed", err)
		return
	}

	RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/queued
func (h *JobsHandler) ListQueued(c *gin.Context) {
	jobs, err := h.jobs.ListQueued(c.Request.Context(), 100)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/running
func (h *JobsHandler) ListRunning(c *gin.Context) {
	jobs, err := h.jobs.ListRunning(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cuongbtq/jobprogress/internal/api/dto"
	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/cuongbtq/jobprogress/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// query parameters of ListJobs that are not job filters
var listParams = []string{"page_size", "cursor", "details"}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	var opts []jobprogress.CreateOption
	if req.State != "" {
		state, err := states.Parse(req.State)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		opts = append(opts, jobprogress.WithState(state))
	}

	ctx := c.Request.Context()
	job, err := h.session.Create(ctx, req.Data, *req.Amount, opts...)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	rec, err := job.Record(ctx, false)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.ID()),
		slog.Int64("amount", job.Amount()),
	)
	c.JSON(http.StatusCreated, rec)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	var req dto.GetJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	ctx := c.Request.Context()
	job, err := h.session.Get(ctx, c.Param("job_id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	rec, err := job.Record(ctx, req.Details)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListJobs handles GET /api/v1/jobs?state=&is_ready=
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	after, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	filter, err := backend.ParseFilter(filterParams(c.Request.URL.Query()))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	ids, err := h.session.IDs(ctx, filter)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	// ids are sorted: skip everything up to and including the cursor
	ids = ids[sort.SearchStrings(ids, after):]
	if len(ids) > 0 && ids[0] == after {
		ids = ids[1:]
	}

	records := make([]*jobprogress.Record, 0, min(len(ids), req.PageSize))
	var nextCursor string
	for _, id := range ids {
		if len(records) == req.PageSize {
			nextCursor = EncodeJobCursor(records[len(records)-1].ID)
			break
		}

		job, err := h.session.Get(ctx, id)
		if errors.Is(err, jobprogress.ErrJobNotFound) {
			continue
		}
		if err != nil {
			h.abortWithError(c, err)
			return
		}

		rec, err := job.Record(ctx, req.Details)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		records = append(records, rec)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       records,
		NextCursor: nextCursor,
	})
}

func filterParams(query url.Values) url.Values {
	for _, p := range listParams {
		query.Del(p)
	}
	return query
}

// UpdateState handles PUT /api/v1/jobs/:job_id/state
func (h *JobHandler) UpdateState(c *gin.Context) {
	var req dto.UpdateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	state, err := states.Parse(req.State)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	job, err := h.session.Get(ctx, c.Param("job_id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	if err := job.SetState(ctx, state); err != nil {
		h.abortWithError(c, err)
		return
	}

	rec, err := job.Record(ctx, false)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	h.logger.Info("Job state updated",
		slog.String("job_id", job.ID()),
		slog.String("state", state.String()),
	)
	c.JSON(http.StatusOK, rec)
}

// ReportProgress handles POST /api/v1/jobs/:job_id/progress. Asynchronous
// reports are queued for the worker service and answered with 202.
func (h *JobHandler) ReportProgress(c *gin.Context) {
	var req dto.ReportProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	job, err := h.session.Get(ctx, c.Param("job_id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	if req.Async {
		if h.publisher == nil {
			h.abortWithError(c, ErrPublisherUnavailable)
			return
		}
		report := domain.Report{JobID: job.ID(), Success: *req.Success, ItemID: req.ItemID}

		if err := h.publisher.PublishJSON(ctx, report); err != nil {
			h.abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.ReportAcceptedResponse{JobID: job.ID(), Status: "queued"})
		return
	}

	if err := job.Track(ctx, *req.Success, req.ItemID); err != nil {
		h.abortWithError(c, err)
		return
	}

	rec, err := job.Record(ctx, false)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.session.Get(ctx, c.Param("job_id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	if err := job.Delete(ctx); err != nil {
		h.abortWithError(c, err)
		return
	}

	h.logger.Info("Job deleted", slog.String("job_id", job.ID()))
	c.Status(http.StatusNoContent)
}

// GetArchivedJob handles GET /api/v1/archive/:job_id
func (h *JobHandler) GetArchivedJob(c *gin.Context) {
	if h.archive == nil {
		h.abortWithError(c, ErrArchiveUnavailable)
		return
	}

	entry, err := h.archive.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	rec, err := entry.Record()
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ArchivedJobResponse{
		Record:     rec,
		ArchivedAt: entry.ArchivedAt.Format(time.RFC3339),
	})
}

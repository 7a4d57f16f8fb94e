package dto

import "github.com/cuongbtq/jobprogress/internal/jobprogress"

type CreateJobRequest struct {
	Data   map[string]string `json:"data"`
	Amount *int64            `json:"amount" binding:"required"`
	State  string            `json:"state"`
}

type ListJobsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
	Details  bool   `form:"details"`
}

type ListJobsResponse struct {
	Jobs       []*jobprogress.Record `json:"jobs"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type GetJobRequest struct {
	Details bool `form:"details"`
}

type UpdateStateRequest struct {
	State string `json:"state" binding:"required"`
}

type ReportProgressRequest struct {
	Success *bool  `json:"success" binding:"required"`
	ItemID  string `json:"item_id"`
	Async   bool   `json:"async"`
}

type ReportAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ArchivedJobResponse struct {
	*jobprogress.Record
	ArchivedAt string `json:"archived_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/jobprogress/internal/api/dto"
	"github.com/cuongbtq/jobprogress/internal/archive"
	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/gin-gonic/gin"
)

var (
	// ErrPublisherUnavailable is returned for asynchronous reports when no
	// broker is configured
	ErrPublisherUnavailable = errors.New("asynchronous reports are not enabled")

	// ErrArchiveUnavailable is returned when no archive database is configured
	ErrArchiveUnavailable = errors.New("archive is not enabled")
)

// ReportPublisher queues a progress report for the worker service
type ReportPublisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// ArchiveReader reads archived job records
type ArchiveReader interface {
	Get(ctx context.Context, jobID string) (*archive.Entry, error)
}

// HealthChecker reports the health of one dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers. Publisher and
// Archive are optional.
type Dependencies struct {
	Logger    *slog.Logger
	Session   *jobprogress.Session
	Publisher ReportPublisher
	Archive   ArchiveReader
	Health    map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	session   *jobprogress.Session
	publisher ReportPublisher
	archive   ArchiveReader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		session:   deps.Session,
		publisher: deps.Publisher,
		archive:   deps.Archive,
	}
}

// statusFor maps an error to the HTTP status it is reported with
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobprogress.ErrJobNotFound),
		errors.Is(err, archive.ErrNotArchived):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrUnknownFilter),
		errors.Is(err, backend.ErrInvalidFilter),
		errors.Is(err, backend.ErrStateRequired),
		errors.Is(err, backend.ErrInvalidProgressState),
		errors.Is(err, states.ErrInvalidState),
		errors.Is(err, jobprogress.ErrInvalidAmount),
		errors.Is(err, errInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, ErrPublisherUnavailable),
		errors.Is(err, ErrArchiveUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as a JSON error. Server errors are logged and
// their detail hidden from the client.
func (h *JobHandler) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg})
}

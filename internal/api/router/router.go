package router

import (
	"github.com/cuongbtq/jobprogress/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps, "jobprogress-api-service")
	r.GET("/health", healthHandler.Health)

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.PUT("/:job_id/state", jobHandler.UpdateState)
			jobs.POST("/:job_id/progress", jobHandler.ReportProgress)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		v1.GET("/archive/:job_id", jobHandler.GetArchivedJob)
	}

	return r
}

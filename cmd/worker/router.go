package main

import (
	"net/http"

	"nvisy/internal/infra"
	"nvisy/internal/infra/queue"
	"nvisy/internal/logger"
	"nvisy/internal/middleware"
	"nvisy/internal/worker/tasks"
	"nvisy/internal/workflow/executor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupOpsRouter 组装运维路由
// 这里只暴露进程级的观测与触发入口，业务 API 由独立服务承担
func setupOpsRouter(repo *executor.Repository, client queue.Client, inspector *queue.Inspector) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.AccessLog(logger.Get()), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if err := infra.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "component": "database", "error": err.Error()})
			return
		}
		if err := infra.HealthCheckRedis(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "component": "redis", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/queues", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"queues": inspector.Stats()})
	})

	router.GET("/workflows", func(c *gin.Context) {
		records, err := repo.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"workflows": records})
	})

	router.POST("/workflows/:id/run", func(c *gin.Context) {
		id := c.Param("id")
		if _, err := repo.Get(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		taskID, err := client.EnqueueRunWorkflow(c.Request.Context(), tasks.RunWorkflowPayload{
			WorkflowID:  id,
			TriggeredBy: c.DefaultQuery("triggered_by", "ops"),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
	})

	return router
}

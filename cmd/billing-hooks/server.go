package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-billing-hooks/adapters/gocommand"
	"github.com/goliatone/go-billing-hooks/core"
	"github.com/goliatone/go-billing-hooks/inbound"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type notificationRequest struct {
	Kind        string         `json:"kind" binding:"required"`
	SubjectID   string         `json:"subjectId" binding:"required"`
	AccountID   string         `json:"accountId"`
	TenantID    string         `json:"tenantId"`
	ExtraFields map[string]any `json:"extraFields"`
}

// newRouter exposes event intake plus job inspection. Everything other than
// event intake goes through the registered go-command handlers.
func newRouter(intake *inbound.EventIntake, logger core.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.POST("/events", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			writeError(c, core.NewServiceError("read event body: "+err.Error(), goerrors.CategoryBadInput, core.ServiceErrorBadInput))
			return
		}
		result, err := intake.Accept(c.Request.Context(), inbound.Request{
			Headers: flattenHeaders(c.Request.Header),
			Body:    body,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		response := gin.H{"status": "accepted", "eventType": result.Event.EventType}
		if result.Deduped {
			response["status"] = "duplicate"
		}
		if result.Outcome.Ignored {
			response["status"] = "ignored"
		}
		if result.Outcome.JobID != uuid.Nil {
			response["jobId"] = result.Outcome.JobID.String()
		}
		c.JSON(result.StatusCode, response)
	})

	v1.POST("/notifications", func(c *gin.Context) {
		var req notificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, core.NewServiceError("invalid notification body: "+err.Error(), goerrors.CategoryBadInput, core.ServiceErrorBadInput))
			return
		}
		intent, err := req.toDomain()
		if err != nil {
			writeError(c, err)
			return
		}
		jobID, err := gocommand.EnqueueNotification(c.Request.Context(), intent)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": jobID.String()})
	})

	v1.POST("/dispatch", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(c, core.NewServiceError("limit must be an integer", goerrors.CategoryBadInput, core.ServiceErrorBadInput))
				return
			}
			limit = parsed
		}
		stats, err := gocommand.DispatchPending(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
		})
	})

	v1.GET("/jobs/:id", func(c *gin.Context) {
		jobID, ok := pathJobID(c)
		if !ok {
			return
		}
		view, err := gocommand.JobStatus(c.Request.Context(), jobID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	v1.GET("/jobs/:id/attempts", func(c *gin.Context) {
		jobID, ok := pathJobID(c)
		if !ok {
			return
		}
		attempts, err := gocommand.JobAttempts(c.Request.Context(), jobID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobId": jobID.String(), "attempts": attempts})
	})

	return router
}

func (r notificationRequest) toDomain() (core.NotificationIntent, error) {
	subjectID, err := parseID("subjectId", r.SubjectID, true)
	if err != nil {
		return core.NotificationIntent{}, err
	}
	accountID, err := parseID("accountId", r.AccountID, false)
	if err != nil {
		return core.NotificationIntent{}, err
	}
	tenantID, err := parseID("tenantId", r.TenantID, false)
	if err != nil {
		return core.NotificationIntent{}, err
	}
	return core.NotificationIntent{
		Kind:        core.IntentKind(r.Kind),
		AccountID:   accountID,
		TenantID:    tenantID,
		SubjectID:   subjectID,
		ExtraFields: r.ExtraFields,
	}, nil
}

func parseID(field, raw string, required bool) (uuid.UUID, error) {
	if raw == "" && !required {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, core.NewServiceError(field+" must be a uuid", goerrors.CategoryBadInput, core.ServiceErrorBadInput)
	}
	return id, nil
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

func pathJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := parseID("id", c.Param("id"), true)
	if err != nil {
		writeError(c, err)
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   mapped.TextCode,
		"message": mapped.Message,
	})
}

func requestLogger(logger core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
}

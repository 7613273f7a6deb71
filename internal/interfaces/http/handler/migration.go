package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/dto"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/middleware"
)

// MigrationService is the part of the migration service exposed over HTTP
type MigrationService interface {
	StartMigration(ctx context.Context, tenantID uuid.UUID, req migrationapp.StartMigrationRequest) (uuid.UUID, error)
	GetStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*migrationapp.JobResponse, error)
	ListJobs(ctx context.Context, tenantID uuid.UUID, f migrationapp.ListJobsFilter) (*migrationapp.JobListResponse, error)
	GetMapping(ctx context.Context, tenantID uuid.UUID, entityType, externalID string) (*migrationapp.MappingResponse, error)
	Pause(ctx context.Context, tenantID, jobID uuid.UUID) error
	Resume(ctx context.Context, tenantID, jobID uuid.UUID) error
	Cancel(ctx context.Context, tenantID, jobID uuid.UUID) error
}

// ReportLinker issues download links for archived job reports
type ReportLinker interface {
	Link(ctx context.Context, tenantID, jobID uuid.UUID) (*migrationapp.ReportLink, error)
}

// MigrationHandler serves /migrations
type MigrationHandler struct {
	BaseHandler
	service  MigrationService
	reports  ReportLinker
	validate *validator.Validate
}

// NewMigrationHandler creates a migration handler; reports may be nil when archiving is off
func NewMigrationHandler(service MigrationService, reports ReportLinker) *MigrationHandler {
	return &MigrationHandler{
		service:  service,
		reports:  reports,
		validate: middleware.NewValidator(),
	}
}

// RegisterRoutes registers the migration routes
func (h *MigrationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/migrations")
	g.POST("", h.Start)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/:id/cancel", h.Cancel)
	g.GET("/:id/report", h.Report)
	g.GET("/:id/mappings/:entity_type/:external_id", h.GetMapping)
}

// Start creates a migration job and starts it in the background
func (h *MigrationHandler) Start(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant not resolved")
		return
	}

	var req migrationapp.StartMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &syntaxErr) {
			h.Error(c, 400, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
			return
		}
		h.BadRequest(c, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if claims := middleware.GetJWTClaims(c); claims != nil {
		if userID, err := uuid.Parse(claims.UserID); err == nil {
			req.RequestedBy = &userID
		}
	}

	jobID, err := h.service.StartMigration(c.Request.Context(), tenant, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status, err := h.service.GetStatus(c.Request.Context(), tenant, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, status)
}

// List returns a page of the tenant's jobs
func (h *MigrationHandler) List(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant not resolved")
		return
	}

	var f migrationapp.ListJobsFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if err := h.validate.Struct(f); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	page, err := h.service.ListJobs(c.Request.Context(), tenant, f)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get returns the status of one job
func (h *MigrationHandler) Get(c *gin.Context) {
	h.withJob(c, func(ctx context.Context, tenant, jobID uuid.UUID) (any, error) {
		return h.service.GetStatus(ctx, tenant, jobID)
	})
}

// Pause asks a running job to stop at its next batch boundary
func (h *MigrationHandler) Pause(c *gin.Context) {
	h.command(c, h.service.Pause)
}

// Resume continues a paused job from its checkpoint
func (h *MigrationHandler) Resume(c *gin.Context) {
	h.command(c, h.service.Resume)
}

// Cancel stops a job for good; migrated records stay
func (h *MigrationHandler) Cancel(c *gin.Context) {
	h.command(c, h.service.Cancel)
}

// Report returns a short-lived download link for a terminal job's report
func (h *MigrationHandler) Report(c *gin.Context) {
	if h.reports == nil {
		h.Error(c, 404, migrationapp.ErrReportNotFound.Code, "Report archiving is not enabled")
		return
	}
	h.withJob(c, func(ctx context.Context, tenant, jobID uuid.UUID) (any, error) {
		return h.reports.Link(ctx, tenant, jobID)
	})
}

// GetMapping shows where an external record was migrated to. The job in the path
// must belong to the tenant; mappings themselves are tenant wide.
func (h *MigrationHandler) GetMapping(c *gin.Context) {
	h.withJob(c, func(ctx context.Context, tenant, jobID uuid.UUID) (any, error) {
		if _, err := h.service.GetStatus(ctx, tenant, jobID); err != nil {
			return nil, err
		}
		return h.service.GetMapping(ctx, tenant, c.Param("entity_type"), c.Param("external_id"))
	})
}

// command runs a state change and answers with the job's new status
func (h *MigrationHandler) command(c *gin.Context, fn func(ctx context.Context, tenantID, jobID uuid.UUID) error) {
	h.withJob(c, func(ctx context.Context, tenant, jobID uuid.UUID) (any, error) {
		if err := fn(ctx, tenant, jobID); err != nil {
			return nil, err
		}
		return h.service.GetStatus(ctx, tenant, jobID)
	})
}

func (h *MigrationHandler) withJob(c *gin.Context, fn func(ctx context.Context, tenant, jobID uuid.UUID) (any, error)) {
	tenant, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant not resolved")
		return
	}
	jobID, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid migration id")
		return
	}
	data, err := fn(c.Request.Context(), tenant, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, data)
}

package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/services"
)

type APIHandlers struct {
	sourceService    *services.Source
	templateService  *services.Template
	contentService   *services.Content
	executionService *services.Execution
	persistence      persistence.Persistence
	validator        *validator.Validate
}

func NewAPIHandlers(
	sourceService *services.Source,
	templateService *services.Template,
	contentService *services.Content,
	executionService *services.Execution,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		sourceService:    sourceService,
		templateService:  templateService,
		contentService:   contentService,
		executionService: executionService,
		persistence:      persistence,
		validator:        validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	repository := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		repository = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListSources(c fiber.Ctx) error {
	sources, err := h.sourceService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(sources)
}

func (h *APIHandlers) GetSource(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Source ID is required")
	}

	source, err := h.sourceService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Source not found")
		}

		return internalError(c, err)
	}

	return c.JSON(source)
}

func (h *APIHandlers) CreateSource(c fiber.Ctx) error {
	var req SourceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.sourceService.Create(c.Context(), req.toSource())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateSource(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Source ID is required")
	}

	var req SourceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.sourceService.Update(c.Context(), id, req.toSource())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteSource(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Source ID is required")
	}

	if err := h.sourceService.Delete(c.Context(), id); err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Source not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(templates)
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.templateService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Template not found")
		}

		return internalError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.templateService.Save(c.Context(), req.toTemplate())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	template := req.toTemplate()
	template.ID = id

	updated, err := h.templateService.Save(c.Context(), template)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	if err := h.templateService.Delete(c.Context(), id); err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Template not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetStepTypes(c fiber.Ctx) error {
	return c.JSON(h.templateService.StepTypes())
}

func (h *APIHandlers) ListContent(c fiber.Ctx) error {
	opts, err := h.parseListContentOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	items, err := h.contentService.List(c.Context(), *opts)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"items": items,
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

func (h *APIHandlers) parseListContentOptions(c fiber.Ctx) (*persistence.ListContentOptions, error) {
	opts := &persistence.ListContentOptions{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	opts.SourceID = c.Query("source_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ContentStatus(statusStr)
		opts.Status = &status
	}

	return opts, nil
}

func (h *APIHandlers) GetContent(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Content ID is required")
	}

	item, err := h.contentService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Content item not found")
		}

		return internalError(c, err)
	}

	return c.JSON(item)
}

func (h *APIHandlers) RetriggerContent(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Content ID is required")
	}

	var req RetriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.contentService.Retrigger(c.Context(), id, req.TemplateID)
	if err != nil {
		return handleServiceError(c, err)
	}

	if execution == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) ListContentExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Content ID is required")
	}

	executions, err := h.executionService.ListByContent(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(executions)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c, err)
	}

	steps, err := h.executionService.Steps(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution": execution,
		"steps":     steps,
	})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executionService.Cancel(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Pause(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Resume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

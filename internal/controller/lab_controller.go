package controller

import (
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/service"
	"cyberrange_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type LabController struct {
	LabService     *service.LabService
	ContentService *service.ContentService
	UserService    *service.UserService
}

func NewLabController(labService *service.LabService, contentService *service.ContentService, userService *service.UserService) *LabController {
	return &LabController{
		LabService:     labService,
		ContentService: contentService,
		UserService:    userService,
	}
}

// ListLabs godoc
// @Summary List labs
// @Description Students see published labs only; instructors see everything
// @Tags labs
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "Page" default(1)
// @Param   limit query int false "Page size" default(20)
// @Param   category query string false "Category filter"
// @Success 200 {object} util.Response{data=util.PageResponse} "Success"
// @Router /api/labs [get]
func (c *LabController) ListLabs(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	publishedOnly := claims == nil || !claims.Role.IsAdmin()

	labs, total, err := c.ContentService.ListLabs(page, limit, publishedOnly, ctx.Query("category"))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: labs, Total: total, Page: page, Limit: limit})
}

// GetLab godoc
// @Summary Get one lab
// @Tags labs
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Lab ID"
// @Success 200 {object} util.Response{data=model.Lab} "Success"
// @Failure 404 {object} util.Response "Not found"
// @Router /api/labs/{id} [get]
func (c *LabController) GetLab(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid lab id")
		return
	}
	claims := util.GetUserFromContext(ctx)
	lab, err := c.ContentService.GetLab(id, claims != nil && claims.Role.IsAdmin())
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, lab)
}

// swagger:model LabRequest
type LabRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty"`
	Image         string `json:"image" binding:"required"`
	BudgetMinutes int    `json:"budgetMinutes"`
}

// CreateLab godoc
// @Summary Create a lab
// @Tags labs
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body LabRequest true "Lab definition"
// @Success 201 {object} util.Response{data=model.Lab} "Created"
// @Router /api/admin/labs [post]
func (c *LabController) CreateLab(ctx *gin.Context) {
	var req LabRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	lab := &model.Lab{
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Difficulty:    req.Difficulty,
		Image:         req.Image,
		BudgetMinutes: req.BudgetMinutes,
	}
	if err := c.ContentService.CreateLab(lab); err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Created(ctx, lab)
}

// UpdateLab godoc
// @Summary Update a lab
// @Tags labs
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Lab ID"
// @Param   body body LabRequest true "Lab definition"
// @Success 200 {object} util.Response{data=model.Lab} "Success"
// @Router /api/admin/labs/{id} [put]
func (c *LabController) UpdateLab(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid lab id")
		return
	}
	lab, err := c.ContentService.GetLab(id, true)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	var req LabRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	lab.Title = req.Title
	lab.Description = req.Description
	lab.Category = req.Category
	lab.Difficulty = req.Difficulty
	lab.Image = req.Image
	lab.BudgetMinutes = req.BudgetMinutes
	if err := c.ContentService.UpdateLab(lab); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, lab)
}

// PublishLab godoc
// @Summary Publish a lab
// @Tags labs
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Lab ID"
// @Success 200 {object} util.Response{data=model.Lab} "Success"
// @Router /api/admin/labs/{id}/publish [post]
func (c *LabController) PublishLab(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid lab id")
		return
	}
	lab, err := c.ContentService.PublishLab(id)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, lab)
}

// DeleteLab godoc
// @Summary Delete a lab
// @Tags labs
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Lab ID"
// @Success 200 {object} util.Response "Success"
// @Router /api/admin/labs/{id} [delete]
func (c *LabController) DeleteLab(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid lab id")
		return
	}
	if err := c.ContentService.DeleteLab(id); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// StartSession godoc
// @Summary Start a lab session
// @Description Provisions an isolated environment and starts the time budget
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Lab ID"
// @Success 201 {object} util.Response{data=model.LabSession} "Created"
// @Failure 409 {object} util.Response "A live session already exists"
// @Failure 504 {object} util.Response "Provisioning timed out"
// @Router /api/labs/{id}/sessions [post]
func (c *LabController) StartSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid lab id")
		return
	}
	session, err := c.LabService.Start(ctx.Request.Context(), claims.UserID, id)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Created(ctx, session)
}

// GetSession godoc
// @Summary Get a session
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Session ID"
// @Success 200 {object} util.Response{data=model.LabSession} "Success"
// @Router /api/sessions/{id} [get]
func (c *LabController) GetSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.LabService.Get(ctx.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// ResetSession godoc
// @Summary Reset a session
// @Description Recycles the environment and restores the full time budget
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Session ID"
// @Success 200 {object} util.Response{data=model.LabSession} "Success"
// @Failure 409 {object} util.Response "Reset already in progress"
// @Failure 422 {object} util.Response "Session is not running"
// @Router /api/sessions/{id}/reset [post]
func (c *LabController) ResetSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.LabService.Reset(ctx.Request.Context(), ctx.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// StopSession godoc
// @Summary Stop a session
// @Description Idempotent; stopping a finished session returns its state
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Session ID"
// @Success 200 {object} util.Response{data=model.LabSession} "Success"
// @Router /api/sessions/{id}/stop [post]
func (c *LabController) StopSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.LabService.Stop(ctx.Request.Context(), ctx.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// Heartbeat godoc
// @Summary Session heartbeat
// @Description Records liveness; never extends the deadline
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Session ID"
// @Success 200 {object} util.Response{data=model.LabSession} "Success"
// @Router /api/sessions/{id}/heartbeat [post]
func (c *LabController) Heartbeat(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.LabService.Heartbeat(ctx.Param("id"), claims.UserID)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// SessionTimeline godoc
// @Summary Session event timeline
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Session ID"
// @Success 200 {object} util.Response{data=[]model.ActivityEvent} "Success"
// @Router /api/sessions/{id}/events [get]
func (c *LabController) SessionTimeline(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	session, err := c.LabService.Get(ctx.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	events, err := c.UserService.SessionTimeline(session.ID, claims.UserID, claims.Role, session)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, events)
}

// MySessions godoc
// @Summary List the caller's sessions
// @Tags sessions
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "Page" default(1)
// @Param   limit query int false "Page size" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse} "Success"
// @Router /api/sessions [get]
func (c *LabController) MySessions(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	sessions, total, err := c.UserService.ListSessions(claims.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: sessions, Total: total, Page: page, Limit: limit})
}

func pagination(ctx *gin.Context) (int, int) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func pathID(ctx *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	return uint(id), err
}

package controller

import (
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/service"
	"cyberrange_backend/internal/util"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type ChallengeController struct {
	FlagService    *service.FlagService
	ContentService *service.ContentService
	UserService    *service.UserService
}

func NewChallengeController(flagService *service.FlagService, contentService *service.ContentService, userService *service.UserService) *ChallengeController {
	return &ChallengeController{
		FlagService:    flagService,
		ContentService: contentService,
		UserService:    userService,
	}
}

// ListChallenges godoc
// @Summary List challenges
// @Tags challenges
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "Page" default(1)
// @Param   limit query int false "Page size" default(20)
// @Param   category query string false "Category filter"
// @Success 200 {object} util.Response{data=util.PageResponse} "Success"
// @Router /api/challenges [get]
func (c *ChallengeController) ListChallenges(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	publishedOnly := claims == nil || !claims.Role.IsAdmin()

	challenges, total, err := c.ContentService.ListChallenges(page, limit, publishedOnly, ctx.Query("category"))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: challenges, Total: total, Page: page, Limit: limit})
}

// GetChallenge godoc
// @Summary Get one challenge
// @Tags challenges
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Challenge ID"
// @Success 200 {object} util.Response{data=model.Challenge} "Success"
// @Router /api/challenges/{id} [get]
func (c *ChallengeController) GetChallenge(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid challenge id")
		return
	}
	claims := util.GetUserFromContext(ctx)
	challenge, err := c.ContentService.GetChallenge(id, claims != nil && claims.Role.IsAdmin())
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, challenge)
}

// swagger:model FlagSubmission
type FlagSubmission struct {
	Flag string `json:"flag" binding:"required"`
}

// SubmitFlag godoc
// @Summary Submit a flag
// @Description Points are awarded at most once per challenge per user
// @Tags challenges
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Challenge ID"
// @Param   body body FlagSubmission true "Flag"
// @Success 200 {object} util.Response{data=service.SubmissionResult} "Verdict"
// @Failure 429 {object} util.Response "Too many guesses"
// @Router /api/challenges/{id}/submit [post]
func (c *ChallengeController) SubmitFlag(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid challenge id")
		return
	}
	var req FlagSubmission
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	result, err := c.FlagService.Submit(ctx.Request.Context(), claims.UserID, id, req.Flag)
	if err != nil {
		if errors.Is(err, service.ErrTooManyGuesses) {
			util.Error(ctx, http.StatusTooManyRequests, err.Error())
			return
		}
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Leaderboard godoc
// @Summary Points leaderboard
// @Tags challenges
// @Produce  json
// @Security ApiKeyAuth
// @Param   limit query int false "Rows" default(20)
// @Success 200 {object} util.Response{data=[]service.LeaderboardEntry} "Success"
// @Router /api/leaderboard [get]
func (c *ChallengeController) Leaderboard(ctx *gin.Context) {
	_, limit := pagination(ctx)
	entries, err := c.FlagService.Leaderboard(ctx.Request.Context(), limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, entries)
}

// MySolves godoc
// @Summary List the caller's solves
// @Tags challenges
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.ChallengeSolve} "Success"
// @Router /api/solves [get]
func (c *ChallengeController) MySolves(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	solves, err := c.UserService.ListSolves(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, solves)
}

// swagger:model ChallengeRequest
type ChallengeRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Difficulty  string `json:"difficulty"`
	Points      int    `json:"points" binding:"required"`
	Flag        string `json:"flag"`
}

// CreateChallenge godoc
// @Summary Create a challenge
// @Description The flag is hashed on arrival; plaintext is never stored
// @Tags challenges
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body ChallengeRequest true "Challenge definition"
// @Success 201 {object} util.Response{data=model.Challenge} "Created"
// @Router /api/admin/challenges [post]
func (c *ChallengeController) CreateChallenge(ctx *gin.Context) {
	var req ChallengeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	challenge := &model.Challenge{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Difficulty:  req.Difficulty,
		Points:      req.Points,
	}
	if err := c.ContentService.CreateChallenge(challenge, req.Flag); err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Created(ctx, challenge)
}

// UpdateChallenge godoc
// @Summary Update a challenge
// @Tags challenges
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Challenge ID"
// @Param   body body ChallengeRequest true "Challenge definition"
// @Success 200 {object} util.Response{data=model.Challenge} "Success"
// @Router /api/admin/challenges/{id} [put]
func (c *ChallengeController) UpdateChallenge(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid challenge id")
		return
	}
	challenge, err := c.ContentService.GetChallenge(id, true)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	var req ChallengeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	challenge.Title = req.Title
	challenge.Description = req.Description
	challenge.Category = req.Category
	challenge.Difficulty = req.Difficulty
	challenge.Points = req.Points
	if err := c.ContentService.UpdateChallenge(challenge, req.Flag); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, challenge)
}

// PublishChallenge godoc
// @Summary Publish a challenge
// @Tags challenges
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Challenge ID"
// @Success 200 {object} util.Response{data=model.Challenge} "Success"
// @Router /api/admin/challenges/{id}/publish [post]
func (c *ChallengeController) PublishChallenge(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid challenge id")
		return
	}
	challenge, err := c.ContentService.PublishChallenge(id)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, challenge)
}

// DeleteChallenge godoc
// @Summary Delete a challenge
// @Tags challenges
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Challenge ID"
// @Success 200 {object} util.Response "Success"
// @Router /api/admin/challenges/{id} [delete]
func (c *ChallengeController) DeleteChallenge(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid challenge id")
		return
	}
	if err := c.ContentService.DeleteChallenge(ctx.Request.Context(), id); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// UploadAttachment godoc
// @Summary Upload a challenge attachment
// @Tags challenges
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Challenge ID"
// @Param   file formData file true "Attachment file"
// @Success 200 {object} util.Response{data=model.Challenge} "Success"
// @Router /api/admin/challenges/{id}/attachment [post]
func (c *ChallengeController) UploadAttachment(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid challenge id")
		return
	}
	header, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	challenge, err := c.ContentService.AttachFile(ctx.Request.Context(), id, header.Filename,
		file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, challenge)
}

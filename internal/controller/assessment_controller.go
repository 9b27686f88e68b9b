package controller

import (
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/service"
	"cyberrange_backend/internal/util"
	"encoding/json"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	AssessmentService *service.AssessmentService
	ContentService    *service.ContentService
	UserService       *service.UserService
}

func NewAssessmentController(assessmentService *service.AssessmentService, contentService *service.ContentService, userService *service.UserService) *AssessmentController {
	return &AssessmentController{
		AssessmentService: assessmentService,
		ContentService:    contentService,
		UserService:       userService,
	}
}

// ListAssessments godoc
// @Summary List assessments
// @Tags assessments
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "Page" default(1)
// @Param   limit query int false "Page size" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse} "Success"
// @Router /api/assessments [get]
func (c *AssessmentController) ListAssessments(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	page, limit := pagination(ctx)
	publishedOnly := claims == nil || !claims.Role.IsAdmin()

	assessments, total, err := c.ContentService.ListAssessments(page, limit, publishedOnly)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: assessments, Total: total, Page: page, Limit: limit})
}

// GetAssessment godoc
// @Summary Get one assessment with its questions
// @Description Answer keys are never included in the response
// @Tags assessments
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Success 200 {object} util.Response{data=object} "Success"
// @Router /api/assessments/{id} [get]
func (c *AssessmentController) GetAssessment(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	claims := util.GetUserFromContext(ctx)
	assessment, err := c.ContentService.GetAssessment(id, claims != nil && claims.Role.IsAdmin())
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	questions, err := c.ContentService.ListQuestions(id)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"assessment": assessment, "questions": questions})
}

// StartAttempt godoc
// @Summary Start an attempt
// @Description Opens a timed attempt; one unfinished attempt per assessment
// @Tags attempts
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Success 201 {object} util.Response{data=model.AssessmentAttempt} "Created"
// @Failure 409 {object} util.Response "Attempt in progress or retakes not allowed"
// @Router /api/assessments/{id}/attempts [post]
func (c *AssessmentController) StartAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	attempt, err := c.AssessmentService.StartAttempt(claims.UserID, id)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Created(ctx, attempt)
}

// swagger:model AnswerRequest
type AnswerRequest struct {
	QuestionID uint            `json:"questionId" binding:"required"`
	Value      json.RawMessage `json:"value" binding:"required"`
}

// RecordAnswer godoc
// @Summary Record an answer
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Attempt ID"
// @Param   body body AnswerRequest true "Answer payload"
// @Success 200 {object} util.Response{data=model.AssessmentAttempt} "Success"
// @Failure 422 {object} util.Response "Attempt finished or past deadline"
// @Router /api/attempts/{id}/answers [put]
func (c *AssessmentController) RecordAnswer(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req AnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.AssessmentService.RecordAnswer(ctx.Param("id"), claims.UserID, req.QuestionID, req.Value)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// swagger:model FlagQuestionRequest
type FlagQuestionRequest struct {
	QuestionID uint `json:"questionId" binding:"required"`
	Flagged    bool `json:"flagged"`
}

// FlagQuestion godoc
// @Summary Flag a question for review
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Attempt ID"
// @Param   body body FlagQuestionRequest true "Flag payload"
// @Success 200 {object} util.Response{data=model.AssessmentAttempt} "Success"
// @Router /api/attempts/{id}/flags [put]
func (c *AssessmentController) FlagQuestion(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	var req FlagQuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.AssessmentService.FlagQuestion(ctx.Param("id"), claims.UserID, req.QuestionID, req.Flagged)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// SubmitAttempt godoc
// @Summary Submit an attempt for grading
// @Tags attempts
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response{data=model.AssessmentAttempt} "Success"
// @Failure 422 {object} util.Response "Already finalized"
// @Router /api/attempts/{id}/submit [post]
func (c *AssessmentController) SubmitAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attempt, err := c.AssessmentService.Submit(ctx.Param("id"), claims.UserID)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// GetAttempt godoc
// @Summary Get an attempt
// @Tags attempts
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Attempt ID"
// @Success 200 {object} util.Response{data=model.AssessmentAttempt} "Success"
// @Router /api/attempts/{id} [get]
func (c *AssessmentController) GetAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attempt, err := c.AssessmentService.GetAttempt(ctx.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// swagger:model AssessmentRequest
type AssessmentRequest struct {
	Title            string `json:"title" binding:"required"`
	Description      string `json:"description"`
	TimeLimit        int    `json:"timeLimit"`
	PassingThreshold int    `json:"passingThreshold"`
	AllowRetake      bool   `json:"allowRetake"`
}

// CreateAssessment godoc
// @Summary Create an assessment
// @Tags assessments
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body AssessmentRequest true "Assessment definition"
// @Success 201 {object} util.Response{data=model.Assessment} "Created"
// @Router /api/admin/assessments [post]
func (c *AssessmentController) CreateAssessment(ctx *gin.Context) {
	var req AssessmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	assessment := &model.Assessment{
		Title:            req.Title,
		Description:      req.Description,
		TimeLimit:        req.TimeLimit,
		PassingThreshold: req.PassingThreshold,
		AllowRetake:      req.AllowRetake,
	}
	if err := c.ContentService.CreateAssessment(assessment); err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Created(ctx, assessment)
}

// UpdateAssessment godoc
// @Summary Update an assessment
// @Tags assessments
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Param   body body AssessmentRequest true "Assessment definition"
// @Success 200 {object} util.Response{data=model.Assessment} "Success"
// @Router /api/admin/assessments/{id} [put]
func (c *AssessmentController) UpdateAssessment(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	assessment, err := c.ContentService.GetAssessment(id, true)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	var req AssessmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	assessment.Title = req.Title
	assessment.Description = req.Description
	assessment.TimeLimit = req.TimeLimit
	assessment.PassingThreshold = req.PassingThreshold
	assessment.AllowRetake = req.AllowRetake
	if err := c.ContentService.UpdateAssessment(assessment); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, assessment)
}

// PublishAssessment godoc
// @Summary Publish an assessment
// @Tags assessments
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Success 200 {object} util.Response{data=model.Assessment} "Success"
// @Failure 422 {object} util.Response "No questions"
// @Router /api/admin/assessments/{id}/publish [post]
func (c *AssessmentController) PublishAssessment(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	assessment, err := c.ContentService.PublishAssessment(id)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, assessment)
}

// DeleteAssessment godoc
// @Summary Delete an assessment
// @Tags assessments
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Success 200 {object} util.Response "Success"
// @Router /api/admin/assessments/{id} [delete]
func (c *AssessmentController) DeleteAssessment(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	if err := c.ContentService.DeleteAssessment(id); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// swagger:model QuestionRequest
type QuestionRequest struct {
	QuestionType string          `json:"questionType" binding:"required"`
	Title        string          `json:"title"`
	Content      string          `json:"content" binding:"required"`
	Options      json.RawMessage `json:"options"`
	Answer       json.RawMessage `json:"answer"`
	Points       int             `json:"points"`
	Order        int             `json:"order"`
	Explanation  string          `json:"explanation"`
}

// AddQuestion godoc
// @Summary Add a question
// @Tags assessments
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Param   body body QuestionRequest true "Question definition"
// @Success 201 {object} util.Response{data=model.AssessmentQuestion} "Created"
// @Failure 422 {object} util.Response "Unknown question type"
// @Router /api/admin/assessments/{id}/questions [post]
func (c *AssessmentController) AddQuestion(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	question := &model.AssessmentQuestion{
		AssessmentID: id,
		QuestionType: req.QuestionType,
		Title:        req.Title,
		Content:      req.Content,
		Options:      req.Options,
		Answer:       req.Answer,
		Points:       req.Points,
		Order:        req.Order,
		Explanation:  req.Explanation,
	}
	if err := c.ContentService.AddQuestion(question); err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Created(ctx, question)
}

// UpdateQuestion godoc
// @Summary Replace a question definition
// @Tags assessments
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Question ID"
// @Param   body body QuestionRequest true "New question definition"
// @Success 200 {object} util.Response{data=model.AssessmentQuestion} "Success"
// @Failure 422 {object} util.Response "Unknown question type"
// @Router /api/admin/questions/{id} [put]
func (c *AssessmentController) UpdateQuestion(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid question id")
		return
	}
	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	question, err := c.ContentService.UpdateQuestion(id, &model.AssessmentQuestion{
		QuestionType: req.QuestionType,
		Title:        req.Title,
		Content:      req.Content,
		Options:      req.Options,
		Answer:       req.Answer,
		Points:       req.Points,
		Order:        req.Order,
		Explanation:  req.Explanation,
	})
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, question)
}

// DeleteQuestion godoc
// @Summary Delete a question
// @Tags assessments
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Question ID"
// @Success 200 {object} util.Response "Success"
// @Router /api/admin/questions/{id} [delete]
func (c *AssessmentController) DeleteQuestion(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid question id")
		return
	}
	if err := c.ContentService.DeleteQuestion(id); err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// swagger:model GradeRequest
type GradeRequest struct {
	Awards map[uint]int `json:"awards" binding:"required"`
}

// ResolveGrades godoc
// @Summary Resolve pending manual grades
// @Description Applies instructor scores for pending questions and recomputes totals
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "Attempt ID"
// @Param   body body GradeRequest true "Points per question"
// @Success 200 {object} util.Response{data=model.AssessmentAttempt} "Success"
// @Failure 422 {object} util.Response "Attempt not finalized or nothing pending"
// @Router /api/admin/attempts/{id}/grades [post]
func (c *AssessmentController) ResolveGrades(ctx *gin.Context) {
	var req GradeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.AssessmentService.ResolvePendingGrades(ctx.Param("id"), req.Awards)
	if err != nil {
		util.EngineErrorResponse(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// ListAttempts godoc
// @Summary List attempts against one assessment
// @Tags attempts
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "Assessment ID"
// @Param   page query int false "Page" default(1)
// @Param   limit query int false "Page size" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse} "Success"
// @Router /api/admin/assessments/{id}/attempts [get]
func (c *AssessmentController) ListAttempts(ctx *gin.Context) {
	id, err := pathID(ctx, "id")
	if err != nil {
		util.BadRequest(ctx, "invalid assessment id")
		return
	}
	page, limit := pagination(ctx)
	attempts, total, err := c.UserService.ListAssessmentAttempts(id, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: attempts, Total: total, Page: page, Limit: limit})
}

package controller

import (
	"cyberrange_backend/internal/service"
	"cyberrange_backend/internal/util"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type SystemController struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Hub         *service.EventsHub
	UserService *service.UserService
	startedAt   time.Time
}

func NewSystemController(db *gorm.DB, rdb *redis.Client, hub *service.EventsHub, userService *service.UserService) *SystemController {
	return &SystemController{
		DB:          db,
		Redis:       rdb,
		Hub:         hub,
		UserService: userService,
		startedAt:   time.Now(),
	}
}

// Health godoc
// @Summary Health check
// @Tags system
// @Produce  json
// @Success 200 {object} util.Response{data=object} "Success"
// @Router /health [get]
func (c *SystemController) Health(ctx *gin.Context) {
	dbStatus := "up"
	if sqlDB, err := c.DB.DB(); err != nil || sqlDB.Ping() != nil {
		dbStatus = "down"
	}
	redisStatus := "up"
	if c.Redis == nil || c.Redis.Ping(ctx.Request.Context()).Err() != nil {
		redisStatus = "down"
	}
	util.Success(ctx, gin.H{
		"status":   "ok",
		"uptime":   time.Since(c.startedAt).String(),
		"database": dbStatus,
		"redis":    redisStatus,
	})
}

// RecentActivity godoc
// @Summary Tail of the activity ledger
// @Tags system
// @Produce  json
// @Security ApiKeyAuth
// @Param   limit query int false "Rows" default(50)
// @Success 200 {object} util.Response{data=[]model.ActivityEvent} "Success"
// @Router /api/admin/activity [get]
func (c *SystemController) RecentActivity(ctx *gin.Context) {
	_, limit := pagination(ctx)
	events, err := c.UserService.RecentActivity(limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, events)
}

// EventsWS godoc
// @Summary Live activity event stream
// @Description Upgrades to a websocket that pushes ledger events as they occur
// @Tags system
// @Security ApiKeyAuth
// @Router /api/ws/events [get]
func (c *SystemController) EventsWS(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	c.Hub.HandleWS(ctx.Writer, ctx.Request, claims.UserID)
}

package server

import (
	"net/http"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/authz"
	"groupchat/internal/config"
	"groupchat/internal/metrics"
	"groupchat/internal/mw"
	"groupchat/internal/service"
	"groupchat/internal/store"
	"groupchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps 是组装路由所需的基础设施。
type Deps struct {
	Store     store.Store
	Guard     *authz.Guard
	Hub       *ws.Hub
	Publisher service.MessagePublisher
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	userSvc := service.NewUserService(d.Store, cfg)
	roomSvc := service.NewRoomService(d.Store, d.Guard, d.Hub)
	msgSvc := service.NewMessageService(d.Store, d.Guard, d.Hub, d.Publisher)
	profileSvc := service.NewProfileService(d.Store)
	callSvc := service.NewCallService(d.Guard, cfg.CallTokenSecret, time.Duration(cfg.CallTokenTTLMinutes)*time.Minute)
	h := NewHandler(userSvc, roomSvc, msgSvc, profileSvc, callSvc)
	authn := auth.NewAuthenticator(cfg.JWTSecret, d.Store)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestID())
	r.Use(mw.AccessLog())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// 控制单个 IP+路由的速率
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40, mw.ByIPRoute))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(authn.Middleware())

	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	// 邀请码只有 36^8 种，按用户单独收紧加入接口的速率防止枚举
	authed.POST("/rooms/join", mw.RateLimit(rate.Every(2*time.Second), 5, mw.ByUser), h.JoinRoom)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.DELETE("/rooms/:id", h.DeleteRoom)
	authed.POST("/rooms/:id/leave", h.LeaveRoom)
	authed.GET("/rooms/:id/members", h.ListMembers)
	authed.DELETE("/rooms/:id/members/:userID", h.KickMember)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/messages", h.SendMessage)
	authed.POST("/rooms/:id/call-token", h.CallToken)

	authed.GET("/profiles/:userID", h.GetProfile)
	authed.PUT("/profiles/:userID", h.UpdateProfile)

	authed.POST("/push-tokens", h.RegisterPushToken)
	authed.DELETE("/push-tokens", h.UnregisterPushToken)

	r.GET("/ws", ws.Serve(ws.Deps{Hub: d.Hub, Guard: d.Guard, Auth: authn, Messages: msgSvc}))
	return r
}

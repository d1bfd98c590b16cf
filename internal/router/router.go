package router

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/weiwangfds/medcap/config"
	_ "github.com/weiwangfds/medcap/docs" // swagger docs
	"github.com/weiwangfds/medcap/internal/handler"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/pkg/auth"
	"github.com/weiwangfds/medcap/internal/pkg/validate"
	"github.com/weiwangfds/medcap/internal/service/derive"
	"github.com/weiwangfds/medcap/internal/service/ingest"
	"github.com/weiwangfds/medcap/internal/service/issue"
	"github.com/weiwangfds/medcap/internal/service/lifecycle"
	"github.com/weiwangfds/medcap/internal/service/lookup"
	"github.com/weiwangfds/medcap/internal/service/mail"
	"github.com/weiwangfds/medcap/internal/service/patient"
	"github.com/weiwangfds/medcap/internal/service/report"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"github.com/weiwangfds/medcap/internal/service/tag"
	"github.com/weiwangfds/medcap/internal/service/user"
	"gorm.io/gorm"
)

// Dependencies 路由需要的外部资源，由main创建
type Dependencies struct {
	DB       *gorm.DB
	Store    storage.Store
	JWT      *auth.JWTService
	Sessions *auth.SessionService // Redis未启用时为nil
	Mailer   mail.MailService
}

// Router 路由配置
type Router struct {
	engine *gin.Engine
	db     *gorm.DB
}

// NewRouter 创建路由实例
func NewRouter(loggerMiddleware *middleware.LoggerMiddleware, deps Dependencies, cfg *config.Config) *Router {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := validate.RegisterRules(v); err != nil {
			logger.Errorf("注册校验规则失败: %v", err)
		}
	}

	engine := gin.New()
	engine.MaxMultipartMemory = 8 << 20

	db := deps.DB

	// 初始化服务
	tagService := tag.NewTagService(db)
	lookupService := lookup.NewLookupService(db)
	patientService := patient.NewPatientService(db, cfg.Derivation)
	deriveService := derive.NewDeriveService(db, deps.Store, cfg.Derivation)
	ingestService := ingest.NewIngestService(db, deps.Store, tagService, patientService, deriveService, cfg.Storage)
	lifecycleService := lifecycle.NewLifecycleService(db, deps.Store, deriveService, cfg.Storage, cfg.Derivation)
	issueService := issue.NewIssueService(db, deps.Store, deps.Mailer, cfg.Issue)
	reportService := report.NewReportService(db, deps.Store, cfg.Server.SiteURL, cfg.Derivation.Timezone)

	var sessionStore user.SessionStore
	var sessionReader middleware.SessionReader
	if deps.Sessions != nil {
		sessionStore = deps.Sessions
		sessionReader = deps.Sessions
	}
	userService := user.NewUserService(db, cfg.Auth, cfg.Server.SiteURL, deps.JWT, sessionStore, deps.Mailer)

	// 初始化处理器
	authHandler := handler.NewAuthHandler(userService)
	tagHandler := handler.NewTagHandler(tagService)
	lookupHandler := handler.NewLookupHandler(lookupService)
	patientHandler := handler.NewPatientHandler(patientService, lifecycleService)
	uploadHandler := handler.NewUploadHandler(ingestService)
	assetHandler := handler.NewAssetHandler(lifecycleService)
	issueHandler := handler.NewIssueHandler(issueService)
	userHandler := handler.NewUserHandler(userService)
	reportHandler := handler.NewReportHandler(reportService)

	authMiddleware := middleware.NewAuthMiddleware(deps.JWT, sessionReader)

	// 使用中间件
	engine.Use(gin.Recovery())
	engine.Use(loggerMiddleware.TraceID())
	engine.Use(loggerMiddleware.Logger())
	engine.Use(loggerMiddleware.RequestLogger())

	// 配置CORS
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.SessionHeader, middleware.TraceIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.TraceIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Swagger文档路由
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	engine.GET("/health", func(c *gin.Context) {
		status, code := "ok", 200
		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			status, code = "database unavailable", 503
		}
		c.JSON(code, gin.H{
			"status":  status,
			"message": "Service is running",
		})
	})

	// 本地存储时直接提供媒体文件
	if local, ok := deps.Store.(*storage.LocalStore); ok && strings.HasPrefix(cfg.Storage.PublicBaseURL, "/") {
		engine.Static(cfg.Storage.PublicBaseURL, local.Root())
	}

	api := engine.Group("/api/v1")
	{
		// 认证
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/logout", authMiddleware.Optional(), authHandler.Logout)
		}

		// 注册页需要字典列表，不要求登录
		api.GET("/lookups/:kind", authMiddleware.Optional(), lookupHandler.List)

		protected := api.Group("")
		protected.Use(authMiddleware.Required())
		{
			me := protected.Group("/me")
			{
				me.GET("", authHandler.Me)
				me.PUT("", authHandler.UpdateProfile)
				me.POST("/password", authHandler.ChangePassword)
			}

			protected.GET("/tags", tagHandler.ListTags)

			patients := protected.Group("/patients")
			{
				patients.POST("", patientHandler.Register)
				patients.GET("/options", patientHandler.Options)
				patients.GET("/:uhid", patientHandler.Get)
				patients.GET("/:uhid/discharge-check", patientHandler.DischargeCheck)
				patients.GET("/:uhid/assets", patientHandler.Assets)
				patients.GET("/:uhid/archive", patientHandler.Archive)
			}

			protected.POST("/captures", uploadHandler.Capture)
			protected.POST("/uploads/:profile", uploadHandler.Upload)

			assets := protected.Group("/assets")
			{
				assets.GET("/deleted", assetHandler.ListDeleted)
				assets.GET("/:kind/:id/download", assetHandler.Download)
				assets.DELETE("/:kind/:id", assetHandler.Delete)
				assets.POST("/:kind/:id/restore", assetHandler.Restore)
				assets.POST("/:kind/:id/derive", middleware.AdminOnly(), assetHandler.Derive)
			}

			issues := protected.Group("/issues")
			{
				issues.POST("", issueHandler.Submit)
				issues.GET("/mine", issueHandler.Mine)
				issues.GET("/gate", issueHandler.Gate)
			}

			// 管理员接口
			admin := protected.Group("")
			admin.Use(middleware.AdminOnly())
			{
				admin.POST("/tags", tagHandler.CreateTag)
				admin.PUT("/tags/:id", tagHandler.UpdateTag)
				admin.POST("/tags/:id/deactivate", tagHandler.DeactivateTag)
				admin.POST("/tags/:id/restore", tagHandler.RestoreTag)

				admin.POST("/lookups/:kind", lookupHandler.Create)
				admin.POST("/lookups/:kind/:id/deactivate", lookupHandler.Deactivate)
				admin.POST("/lookups/:kind/:id/restore", lookupHandler.Restore)

				admin.GET("/admin/issues", issueHandler.List)
				admin.PUT("/admin/issues/:issue_id", issueHandler.UpdateStatus)
				admin.DELETE("/admin/issues/:issue_id", issueHandler.Delete)

				admin.GET("/admin/users", userHandler.List)
				admin.POST("/admin/users/:id/approve", userHandler.Approve)
				admin.POST("/admin/users/:id/disapprove", userHandler.Disapprove)
				admin.POST("/admin/users/:id/unblock", userHandler.Unblock)
				admin.POST("/admin/users/:id/reset-password", userHandler.ResetPassword)
				admin.GET("/admin/users/template", reportHandler.Template)
				admin.POST("/admin/users/import", reportHandler.Import)

				admin.GET("/admin/reports/:kind", reportHandler.Export)
			}
		}
	}

	return &Router{
		engine: engine,
		db:     db,
	}
}

// GetEngine 获取Gin引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// GetDB 获取数据库连接
func (r *Router) GetDB() *gorm.DB {
	return r.db
}

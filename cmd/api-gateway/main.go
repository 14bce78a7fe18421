package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/ilmhub/tcm-api/api/swagger"
	"github.com/ilmhub/tcm-api/internal/handler"
	"github.com/ilmhub/tcm-api/internal/middleware"
	"github.com/ilmhub/tcm-api/internal/models"
	"github.com/ilmhub/tcm-api/internal/repository"
	"github.com/ilmhub/tcm-api/internal/service"
	"github.com/ilmhub/tcm-api/pkg/cache"
	"github.com/ilmhub/tcm-api/pkg/config"
	"github.com/ilmhub/tcm-api/pkg/database"
	"github.com/ilmhub/tcm-api/pkg/jobs"
	"github.com/ilmhub/tcm-api/pkg/logger"
	corsmiddleware "github.com/ilmhub/tcm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ilmhub/tcm-api/pkg/middleware/requestid"
)

// @title Tutoring Center Management API
// @version 1.0.0
// @description Backend for tutoring center operations: students, clients, teachers, recurring class schedules and the enrollment lifecycle.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.ListTTL, logr, true)
		}
	}

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	clientRepo := repository.NewClientRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "tcm-api",
	})

	lifecycleSvc := service.NewLifecycleService(scheduleRepo, studentRepo, clientRepo, logr)
	subjectActivationSvc := service.NewSubjectActivationService(scheduleRepo, studentRepo, logr)
	activitySvc := service.NewActivityService(
		scheduleRepo, studentRepo, teacherRepo, clientRepo, userRepo,
		authSvc, lifecycleSvc,
		service.ActivityMarkers{
			Teacher: cfg.Lifecycle.InactiveTeacherMarker,
			Student: cfg.Lifecycle.InactiveStudentMarker,
		},
		logr,
	)

	userSvc := service.NewUserService(userRepo, nil, logr)
	studentSvc := service.NewStudentService(studentRepo, lifecycleSvc, clientRepo, nil, logr)
	clientSvc := service.NewClientService(clientRepo, lifecycleSvc, nil, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, userRepo, nil, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, nil, logr)
	scheduleSvc := service.NewScheduleService(scheduleRepo, nil, logr)
	exportSvc := service.NewExportService(scheduleRepo, studentRepo, service.ExportConfig{
		Enabled:     cfg.Exports.Enabled,
		MaxRows:     cfg.Exports.MaxRows,
		CompanyName: cfg.Exports.CompanyName,
	}, logr)

	invalidationQueue := jobs.NewQueue("cache-invalidation", func(ctx context.Context, job jobs.Job) error {
		pattern, ok := job.Payload.(string)
		if !ok || cacheSvc == nil {
			return nil
		}
		return cacheSvc.Invalidate(ctx, pattern)
	}, jobs.QueueConfig{Workers: 1, Logger: logr})
	invalidationQueue.Start(context.Background())
	defer invalidationQueue.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, subjectActivationSvc)
	clientHandler := handler.NewClientHandler(clientSvc, activitySvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc, activitySvc)
	supervisorHandler := handler.NewSupervisorHandler(activitySvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())
	api.Use(middleware.CacheInvalidation(invalidationQueue))

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		authed := auth.Group("")
		authed.Use(middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	staffOnly := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleSupervisor)
	adminOnly := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	users := protected.Group("/users", adminOnly)
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.POST("", userHandler.Create)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)
	}

	supervisors := protected.Group("/supervisors", adminOnly)
	{
		supervisors.POST("/:id/toggle", middleware.Audit(userRepo, models.AuditActionActivityToggle, "supervisors"), supervisorHandler.Toggle)
	}

	students := protected.Group("/students", staffOnly)
	{
		students.GET("", middleware.CacheList(cacheSvc, cfg.Cache.ListTTL), studentHandler.List)
		students.GET("/:id", studentHandler.Get)
		students.POST("", studentHandler.Create)
		students.PUT("/:id", studentHandler.Update)
		students.PATCH("/:id/status", middleware.Audit(userRepo, models.AuditActionStatusChange, "students"), studentHandler.UpdateStatus)
		students.GET("/:id/status-history", studentHandler.StatusHistory)
		students.GET("/:id/subjects/active", studentHandler.ActiveSubjects)
		students.POST("/:id/subjects/:subjectId", studentHandler.EnrollSubject)
		students.POST("/:id/subjects/:subjectId/deactivate", studentHandler.DeactivateSubject)
		students.POST("/:id/subjects/:subjectId/reactivate", studentHandler.ReactivateSubject)
		students.GET("/:id/subjects/:subjectId/history", studentHandler.SubjectHistory)
	}

	clients := protected.Group("/clients", staffOnly)
	{
		clients.GET("", middleware.CacheList(cacheSvc, cfg.Cache.ListTTL), clientHandler.List)
		clients.GET("/:id", clientHandler.Get)
		clients.POST("", clientHandler.Create)
		clients.PUT("/:id", clientHandler.Update)
		clients.PATCH("/:id/status", middleware.Audit(userRepo, models.AuditActionStatusChange, "clients"), clientHandler.UpdateStatus)
		clients.GET("/:id/status-history", clientHandler.StatusHistory)
		clients.POST("/:id/toggle", middleware.Audit(userRepo, models.AuditActionActivityToggle, "clients"), clientHandler.Toggle)
	}

	teachers := protected.Group("/teachers", staffOnly)
	{
		teachers.GET("", middleware.CacheList(cacheSvc, cfg.Cache.ListTTL), teacherHandler.List)
		teachers.GET("/:id", teacherHandler.Get)
		teachers.POST("", teacherHandler.Create)
		teachers.PUT("/:id", teacherHandler.Update)
		teachers.POST("/:id/toggle", middleware.Audit(userRepo, models.AuditActionActivityToggle, "teachers"), teacherHandler.Toggle)
	}

	subjects := protected.Group("/subjects", staffOnly)
	{
		subjects.GET("", middleware.CacheList(cacheSvc, cfg.Cache.ListTTL), subjectHandler.List)
		subjects.GET("/:id", subjectHandler.Get)
		subjects.POST("", subjectHandler.Create)
		subjects.PUT("/:id", subjectHandler.Update)
	}

	schedules := protected.Group("/schedules", staffOnly)
	{
		schedules.GET("", scheduleHandler.List)
		schedules.GET("/:id", scheduleHandler.Get)
		schedules.POST("", scheduleHandler.Create)
		schedules.PUT("/:id", scheduleHandler.Update)
		schedules.DELETE("/:id", scheduleHandler.Delete)
		schedules.POST("/:id/available", scheduleHandler.MarkAvailable)
		schedules.POST("/:id/start", scheduleHandler.StartSession)
		schedules.POST("/:id/end", scheduleHandler.EndSession)
	}

	exports := protected.Group("/exports", staffOnly)
	{
		exports.GET("/schedules", exportHandler.Schedules)
		exports.GET("/students/:id/status-history", exportHandler.StudentStatusHistory)
	}

	protected.GET("/system/metrics", adminOnly, metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

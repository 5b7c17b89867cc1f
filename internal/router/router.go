package router

import (
	"strings"

	"imagelab/internal/handler"
	"imagelab/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS：只放行本机前端（localhost / 127.0.0.1 任意端口）
	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 初始化handlers
	cfg := svcCtx.Config
	reportHandler := handler.NewReportHandler(svcCtx.Gallery, svcCtx.GallerySource, svcCtx.Reports, cfg.ReportsPath())
	runHandler := handler.NewRunHandler(svcCtx.Registry)
	bundleHandler := handler.NewBundleHandler(svcCtx.Registry, svcCtx.Reports, cfg.OutputPath(), cfg.ReportsPath())
	imageHandler := handler.NewImageHandler(svcCtx.Gemini, svcCtx.Comfy, cfg.ServedImagesPath(), cfg.OutputPath())

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "ImageLab Report API",
		})
	})

	// API路由
	api := r.Group("/api")
	{
		// 画廊同步
		api.POST("/gallery-data", reportHandler.SyncGalleryData)

		// 画廊报告
		reports := api.Group("/reports")
		{
			reports.POST("/generate", reportHandler.GenerateReport)
			reports.GET("/download/:filename", reportHandler.DownloadReport)
			reports.POST("/validate-csv", reportHandler.ValidateCSV)
		}

		// run 注册表
		runs := api.Group("/runs")
		{
			runs.GET("", runHandler.ListRuns)
			runs.POST("", runHandler.AddRun)
			runs.GET("/:id", runHandler.GetRun)
			runs.DELETE("/:id", runHandler.DeleteRun)
		}

		// 注册表报告包
		bundle := api.Group("/report-bundle")
		{
			bundle.POST("", bundleHandler.CreateBundle)
			bundle.GET("/download", bundleHandler.DownloadBundle)
			bundle.POST("/validate", bundleHandler.ValidateBundleCSV)
		}

		// 图生文和图片服务
		api.POST("/img2txt", imageHandler.AnalyzeImage)
		api.POST("/img2txt/interrupt", imageHandler.Interrupt)
		api.GET("/images/:filename", imageHandler.ServeImage)
	}

	return r
}

package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"imagelab/internal/model"
	"imagelab/internal/service"
)

type ReportHandler struct {
	gallery       *service.GalleryStore
	gallerySource *service.GallerySource
	reports       *service.ReportGenerator
	reportsDir    string
}

func NewReportHandler(gallery *service.GalleryStore, gallerySource *service.GallerySource, reports *service.ReportGenerator, reportsDir string) *ReportHandler {
	return &ReportHandler{
		gallery:       gallery,
		gallerySource: gallerySource,
		reports:       reports,
		reportsDir:    reportsDir,
	}
}

// SyncGalleryData 前端同步画廊状态。请求体整个就是画廊 JSON，
// 原样落盘（不重新序列化）
func (h *ReportHandler) SyncGalleryData(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 || !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "No data provided",
		})
		return
	}

	if err := h.gallery.SaveSnapshot(raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Gallery data updated successfully",
	})
}

// GenerateReport 以当前画廊数据打一个报告包。filename 可选，
// 不传用默认的带时间戳文件名
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	var req struct {
		Filename string `json:"filename"`
	}
	// 请求体允许为空
	_ = c.ShouldBindJSON(&req)

	result := h.reports.CreateBundle(h.gallerySource, req.Filename)
	if result.Status != "success" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": result.Error,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"message":           "Report generated successfully",
		"report_path":       result.ReportPath,
		"report_filename":   result.ReportFilename,
		"total_images":      result.TotalImages,
		"csv_validation":    result.CSVValidation,
		"path_validation":   result.PathValidation,
		"bundle_size_bytes": result.BundleSizeBytes,
		"generation_types":  result.GenerationTypes,
	})
}

// DownloadReport 下载之前生成的报告包
func (h *ReportHandler) DownloadReport(c *gin.Context) {
	filename := c.Param("filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid filename",
		})
		return
	}

	path := filepath.Join(h.reportsDir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Report not found",
		})
		return
	}

	c.FileAttachment(path, filename)
}

// ValidateCSV 对任意外部 CSV 做图片记录 schema 校验
func (h *ReportHandler) ValidateCSV(c *gin.Context) {
	var req struct {
		CSVPath string `json:"csv_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CSVPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "CSV path not provided",
		})
		return
	}

	validation := service.ValidateCSVSchema(req.CSVPath, model.RequiredColumns())
	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"validation": validation,
	})
}

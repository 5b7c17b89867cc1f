package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"imagelab/internal/model"
	"imagelab/internal/registry"
	"imagelab/internal/service"
)

// 注册表变体的报告包固定叫 report.zip，每次生成覆盖上一次
const bundleFilename = "report.zip"

type BundleHandler struct {
	registry   *registry.RunRegistry
	reports    *service.ReportGenerator
	outputDir  string
	reportsDir string
}

func NewBundleHandler(reg *registry.RunRegistry, reports *service.ReportGenerator, outputDir, reportsDir string) *BundleHandler {
	return &BundleHandler{
		registry:   reg,
		reports:    reports,
		outputDir:  outputDir,
		reportsDir: reportsDir,
	}
}

// CreateBundle 以选中的（或全部）run 打一个报告包
func (h *BundleHandler) CreateBundle(c *gin.Context) {
	var req struct {
		RunIDs []string `json:"run_ids"`
	}
	// run_ids 可省略，省略等于全部
	_ = c.ShouldBindJSON(&req)

	source := service.NewRegistrySource(h.registry, h.outputDir, req.RunIDs)
	result := h.reports.CreateBundle(source, bundleFilename)
	if result.Status != "success" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": result.Error,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Report bundle created successfully",
		"file_path": result.ReportPath,
	})
}

// DownloadBundle 下载最近一次生成的报告包
func (h *BundleHandler) DownloadBundle(c *gin.Context) {
	path := filepath.Join(h.reportsDir, bundleFilename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Report bundle not found. Please generate one first.",
		})
		return
	}

	c.FileAttachment(path, bundleFilename)
}

// ValidateBundleCSV 对外部给的 CSV 文本做 run 报告 schema 校验。
// 内容先落到临时文件再走统一的校验器
func (h *BundleHandler) ValidateBundleCSV(c *gin.Context) {
	var req struct {
		CSVContent string `json:"csv_content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "No data provided",
		})
		return
	}

	tmp, err := os.CreateTemp("", "validate_*.csv")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(req.CSVContent); err != nil {
		tmp.Close()
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	tmp.Close()

	validation := service.ValidateCSVSchema(tmp.Name(), model.RunCSVColumns())
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"valid":  validation.Valid,
	})
}

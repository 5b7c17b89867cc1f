package service

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagelab/internal/model"
)

// PathValidation CSV 路径与 zip 内容的一致性校验结果。
// 第 4 步复制的就是第 2 步 CSV 引用的文件，所以正常情况下一定通过；
// 不通过说明打包流程有结构性 bug，如实报告但不重试
type PathValidation struct {
	Valid            bool     `json:"valid"`
	TotalCSVPaths    int      `json:"total_csv_paths"`
	ValidPaths       int      `json:"valid_paths"`
	MissingPaths     []string `json:"missing_paths"`
	ValidationPassed bool     `json:"validation_passed"`
	Error            string   `json:"error,omitempty"`
}

// BundleResult 一次打包的完整结果，原样进 HTTP 响应
type BundleResult struct {
	Status          string          `json:"status"`
	Error           string          `json:"error,omitempty"`
	ReportPath      string          `json:"report_path,omitempty"`
	ReportFilename  string          `json:"report_filename,omitempty"`
	TotalImages     int             `json:"total_images"`
	CSVValidation   *CSVValidation  `json:"csv_validation,omitempty"`
	PathValidation  *PathValidation `json:"path_validation,omitempty"`
	CopiedFiles     int             `json:"copied_files"`
	MissingFiles    []string        `json:"missing_files"`
	GenerationTypes []string        `json:"generation_types"`
	BundleSizeBytes int64           `json:"bundle_size_bytes"`
}

// ReportGenerator 报告打包器。数据源策略（画廊 / run 注册表）由调用方
// 按请求传入，打包流水线本身只有一条
type ReportGenerator struct {
	comfy           *ComfyClient
	settingsPath    string
	reportsDir      string
	servedImagesDir string
	outputDir       string
}

func NewReportGenerator(comfy *ComfyClient, settingsPath, reportsDir, servedImagesDir, outputDir string) *ReportGenerator {
	return &ReportGenerator{
		comfy:           comfy,
		settingsPath:    settingsPath,
		reportsDir:      reportsDir,
		servedImagesDir: servedImagesDir,
		outputDir:       outputDir,
	}
}

// CreateBundle 执行完整打包流程：取数 -> 写 CSV 并自检 -> 写 config.json ->
// 复制图片 -> 写 README -> 打 zip -> 校验 CSV 路径都在 zip 里。
// outputFilename 为空时用带时间戳的默认文件名。任何一步的错误都收敛成
// error 结果返回，不往外抛；staging 目录无论成败都会清掉
func (g *ReportGenerator) CreateBundle(src ReportSource, outputFilename string) *BundleResult {
	result, err := g.assemble(src, outputFilename)
	if err != nil {
		return &BundleResult{Status: "error", Error: err.Error()}
	}
	return result
}

func (g *ReportGenerator) assemble(src ReportSource, outputFilename string) (*BundleResult, error) {
	ds, err := src.Dataset()
	if err != nil {
		return nil, err
	}

	if outputFilename == "" {
		outputFilename = fmt.Sprintf("imagelab_report_%s.zip", time.Now().Format("20060102_150405"))
	}

	if err := os.MkdirAll(g.reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建报告目录失败: %w", err)
	}
	staging, err := os.MkdirTemp(g.reportsDir, "temp_bundle_"+time.Now().Format("20060102_150405")+"_")
	if err != nil {
		return nil, fmt.Errorf("创建打包暂存目录失败: %w", err)
	}
	defer os.RemoveAll(staging)

	// 写 CSV 后立刻用同一套校验器自检。自检不过说明 schema 实现出了 bug，
	// 这种包宁可不出也不能出
	csvPath := filepath.Join(staging, "results.csv")
	if err := WriteCSV(csvPath, ds.Columns, ds.Rows); err != nil {
		return nil, err
	}
	csvValidation := ValidateCSVSchema(csvPath, ds.Required)
	if !csvValidation.Valid {
		return nil, fmt.Errorf("CSV schema validation failed: missing columns %v", csvValidation.MissingColumns)
	}

	if err := g.writeConfigJSON(staging, ds); err != nil {
		return nil, err
	}

	copiedCount, missingFiles := copyImages(ds.Images, staging)

	if err := writeReadme(staging, ds); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(g.reportsDir, outputFilename)
	if err := zipDirectory(staging, outputPath); err != nil {
		// 不留半成品 zip
		_ = os.Remove(outputPath)
		return nil, err
	}

	pathValidation := validateCSVPathsInZip(csvPath, outputPath, ds)

	var bundleSize int64
	if info, err := os.Stat(outputPath); err == nil {
		bundleSize = info.Size()
	}

	return &BundleResult{
		Status:          "success",
		ReportPath:      outputPath,
		ReportFilename:  outputFilename,
		TotalImages:     len(ds.Rows),
		CSVValidation:   &csvValidation,
		PathValidation:  pathValidation,
		CopiedFiles:     copiedCount,
		MissingFiles:    missingFiles,
		GenerationTypes: ds.GenerationTypes,
		BundleSizeBytes: bundleSize,
	}, nil
}

type reportConfig struct {
	ReportMetadata     map[string]interface{} `json:"report_metadata"`
	SystemSettings     json.RawMessage        `json:"system_settings"`
	AvailableModels    ModelsInfo             `json:"available_models"`
	DirectoryStructure map[string]string      `json:"directory_structure"`
	Runs               []model.RunConfig      `json:"runs,omitempty"`
}

// writeConfigJSON 生成 config.json：报告元信息、系统设置快照、可用模型
// 清单（尽力而为，拉不到就是空清单）和目录结构。注册表变体额外带上
// 完整 run 配置
func (g *ReportGenerator) writeConfigJSON(staging string, ds *ReportDataset) error {
	meta := map[string]interface{}{
		"generated_at":          NowISO(),
		"imagelab_version":      "1.0.0",
		"report_format_version": "1.0",
	}
	for k, v := range ds.MetaExtra {
		meta[k] = v
	}

	cfg := reportConfig{
		ReportMetadata:  meta,
		SystemSettings:  LoadSystemSettings(g.settingsPath),
		AvailableModels: g.comfy.AvailableModels(context.Background()),
		DirectoryStructure: map[string]string{
			"output_directory":        g.outputDir,
			"served_images_directory": g.servedImagesDir,
			"reports_directory":       g.reportsDir,
		},
		Runs: ds.Runs,
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化 config.json 失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "config.json"), data, 0o644); err != nil {
		return fmt.Errorf("写入 config.json 失败: %w", err)
	}
	return nil
}

// copyImages 按复制计划把图片搬进暂存目录。源文件缺失或复制失败只记入
// missing 列表，不中断打包——缺图的包照样出，缺口如实写进结果
func copyImages(images []ImageCopy, staging string) (int, []string) {
	copied := 0
	missing := []string{}
	for _, img := range images {
		if _, err := os.Stat(img.SourcePath); err != nil {
			missing = append(missing, img.ArchivePath+": Source file not found")
			continue
		}
		dest := filepath.Join(staging, filepath.FromSlash(img.ArchivePath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			missing = append(missing, img.ArchivePath+": "+err.Error())
			continue
		}
		if err := copyFile(img.SourcePath, dest); err != nil {
			missing = append(missing, img.ArchivePath+": "+err.Error())
			continue
		}
		copied++
	}
	return copied, missing
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// writeReadme 生成面向人的 README.md：概述、包内容、统计和 CSV schema
func writeReadme(staging string, ds *ReportDataset) error {
	var b strings.Builder
	b.WriteString("# ImageLab Generation Report\n\n")
	b.WriteString(fmt.Sprintf("Generated on: %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	b.WriteString("## Overview\n\n")
	b.WriteString(ds.Overview + "\n\n")

	b.WriteString("## Contents\n\n")
	b.WriteString("- `results.csv` - Complete metadata for everything included in this bundle\n")
	b.WriteString("- `config.json` - System configuration, available models and report metadata\n")
	if ds.ImagesDir == "grids" {
		b.WriteString("- `grids/` - Organized image collections\n")
		for _, genType := range ds.GenerationTypes {
			b.WriteString(fmt.Sprintf("  - `grids/%s/` - Images generated via %s\n", genType, genType))
		}
	} else {
		b.WriteString(fmt.Sprintf("- `%s/` - Generated images from all runs\n", ds.ImagesDir))
	}
	b.WriteString("- `README.md` - This file\n\n")

	b.WriteString("## Statistics\n\n")
	for _, line := range ds.Stats {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")

	b.WriteString("## CSV Schema\n\n")
	b.WriteString("The `results.csv` file contains the following required columns:\n\n")
	for _, col := range ds.Required {
		b.WriteString("- `" + col + "`\n")
	}
	if ds.SchemaNote != "" {
		b.WriteString("\n" + ds.SchemaNote + "\n")
	}

	if err := os.WriteFile(filepath.Join(staging, "README.md"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("写入 README.md 失败: %w", err)
	}
	return nil
}

// zipDirectory 把 staging 整棵树打成 zip（deflate），包内路径就是相对
// staging 的路径（统一用 /）
func zipDirectory(staging, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("创建 zip 失败: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.Walk(staging, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("写入 zip 失败: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("关闭 zip 失败: %w", err)
	}
	return out.Close()
}

// validateCSVPathsInZip 重新打开产出的 zip，逐一核对 CSV 里引用的每个
// 包内路径（精确字符串匹配）。读不了 zip 或 CSV 时错误进结果
func validateCSVPathsInZip(csvPath, zipPath string, ds *ReportDataset) *PathValidation {
	result := &PathValidation{MissingPaths: []string{}}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer zr.Close()

	entries := map[string]bool{}
	for _, f := range zr.File {
		entries[f.Name] = true
	}

	paths, err := csvArchivePaths(csvPath, ds)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.TotalCSVPaths = len(paths)
	for _, p := range paths {
		if entries[p] {
			result.ValidPaths++
		} else {
			result.MissingPaths = append(result.MissingPaths, p)
		}
	}
	result.Valid = len(result.MissingPaths) == 0
	result.ValidationPassed = result.Valid
	return result
}

// csvArchivePaths 从 CSV 的路径列取出所有包内路径。注册表变体一格放多个
// 文件名（分号分隔、带 images/ 前缀），画廊变体单值且已经是完整包内路径
func csvArchivePaths(csvPath string, ds *ReportDataset) ([]string, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	col := -1
	for i, name := range header {
		if name == ds.PathColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("CSV 里没有路径列 %s", ds.PathColumn)
	}

	var paths []string
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if col >= len(row) || row[col] == "" {
			continue
		}
		cells := []string{row[col]}
		if ds.PathSeparator != "" {
			cells = strings.Split(row[col], ds.PathSeparator)
		}
		for _, cell := range cells {
			if cell == "" {
				continue
			}
			paths = append(paths, ds.PathPrefix+cell)
		}
	}
	return paths, nil
}

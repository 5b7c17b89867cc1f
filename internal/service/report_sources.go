package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"imagelab/internal/model"
	"imagelab/internal/registry"
)

// ReportSource 报告数据源策略。画廊快照和 run 注册表两种报告走同一条
// 打包流水线，差异全部收敛在数据源里：数据源产出有序记录和复制计划，
// 流水线只认识 ReportDataset
type ReportSource interface {
	Dataset() (*ReportDataset, error)
}

// ImageCopy 一条图片复制计划：源文件 -> 包内路径
type ImageCopy struct {
	SourcePath  string
	ArchivePath string
}

// ReportDataset 数据源产出的归一数据集
type ReportDataset struct {
	// CSV 表头（写入顺序）和自检必需列
	Columns  []string
	Required []string
	// 与 Columns 对齐的记录行
	Rows [][]string

	// CSV 里指向包内文件的列。注册表变体一格放多个文件名（分号分隔），
	// 打包在 images/ 前缀下；画廊变体单值、无前缀
	PathColumn    string
	PathSeparator string
	PathPrefix    string

	// 图片复制计划和包内图片目录名（grids / images）
	Images    []ImageCopy
	ImagesDir string

	// README 用的变体差异：概述句、统计行、schema 补充说明
	GenerationTypes []string
	Overview        string
	Stats           []string
	SchemaNote      string

	// config.json 的变体差异：report_metadata 附加字段、完整 run 配置
	MetaExtra map[string]interface{}
	Runs      []model.RunConfig
}

// GallerySource 画廊快照数据源：快照（或目录扫描兜底）-> 图片记录
type GallerySource struct {
	gallery         *GalleryStore
	servedImagesDir string
}

func NewGallerySource(gallery *GalleryStore, servedImagesDir string) *GallerySource {
	return &GallerySource{
		gallery:         gallery,
		servedImagesDir: servedImagesDir,
	}
}

func (s *GallerySource) Dataset() (*ReportDataset, error) {
	data := s.gallery.Fetch()
	records := s.gallery.BuildRecords(data)

	ds := &ReportDataset{
		Columns:         recordColumns(records),
		Required:        model.RequiredColumns(),
		Rows:            recordRows(records),
		PathColumn:      "relative_path",
		ImagesDir:       "grids",
		GenerationTypes: []string{},
		Overview:        "This report bundle contains a complete snapshot of an ImageLab image generation session.",
		SchemaNote:      "Optional columns include denoising strength, LoRA models, ControlNet information, and file sizes.",
	}

	// 生成类型按记录里首次出现的顺序统计
	typeCounts := map[string]int{}
	for i := range records {
		rec := &records[i]
		if typeCounts[rec.GenerationType] == 0 {
			ds.GenerationTypes = append(ds.GenerationTypes, rec.GenerationType)
		}
		typeCounts[rec.GenerationType]++
		ds.Images = append(ds.Images, ImageCopy{
			SourcePath:  filepath.Join(s.servedImagesDir, rec.Filename),
			ArchivePath: rec.RelativePath,
		})
	}

	ds.Stats = []string{fmt.Sprintf("Total images: %d", len(records))}
	for _, genType := range ds.GenerationTypes {
		ds.Stats = append(ds.Stats, fmt.Sprintf("%s: %d", genType, typeCounts[genType]))
	}
	return ds, nil
}

// RegistrySource run 注册表数据源：选中的（或全部）run -> 拍平的 19 列记录
type RegistrySource struct {
	registry  *registry.RunRegistry
	outputDir string
	runIDs    []string
}

// NewRegistrySource runIDs 为空表示全部 run（最新在前）；指定 runIDs 时
// 找不到的 id 静默跳过
func NewRegistrySource(reg *registry.RunRegistry, outputDir string, runIDs []string) *RegistrySource {
	return &RegistrySource{
		registry:  reg,
		outputDir: outputDir,
		runIDs:    runIDs,
	}
}

func (s *RegistrySource) Dataset() (*ReportDataset, error) {
	var runs []model.RunConfig
	if len(s.runIDs) > 0 {
		for _, id := range s.runIDs {
			if run, ok := s.registry.Get(id); ok {
				runs = append(runs, run)
			}
		}
	} else {
		runs = s.registry.All()
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("No runs found to include in report")
	}

	ds := &ReportDataset{
		Columns:         model.RunCSVColumns(),
		Required:        model.RunCSVColumns(),
		Rows:            runRows(runs),
		PathColumn:      "image_paths",
		PathSeparator:   ";",
		PathPrefix:      "images/",
		ImagesDir:       "images",
		GenerationTypes: []string{},
		Overview: fmt.Sprintf(
			"This report bundle contains %d completed image generation runs with their configurations and results.",
			len(runs)),
		Runs: runs,
	}

	var models []string
	seenType := map[string]bool{}
	seenModel := map[string]bool{}
	for i := range runs {
		run := &runs[i]
		if !seenType[run.GenerationType] {
			seenType[run.GenerationType] = true
			ds.GenerationTypes = append(ds.GenerationTypes, run.GenerationType)
		}
		if !seenModel[run.Model] {
			seenModel[run.Model] = true
			models = append(models, run.Model)
		}
		for _, img := range run.GeneratedImages {
			if img == "" {
				continue
			}
			ds.Images = append(ds.Images, ImageCopy{
				SourcePath:  filepath.Join(s.outputDir, img),
				ArchivePath: "images/" + img,
			})
		}
	}

	ds.Stats = []string{
		fmt.Sprintf("Total runs: %d", len(runs)),
		fmt.Sprintf("Generation types: %s", joinComma(ds.GenerationTypes)),
		fmt.Sprintf("Models used: %s", joinComma(models)),
	}
	ds.MetaExtra = map[string]interface{}{
		"total_runs":       len(runs),
		"generation_types": ds.GenerationTypes,
		"models_used":      models,
	}
	return ds, nil
}

func joinComma(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

package service

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"imagelab/internal/model"
	"imagelab/internal/registry"
)

type reportTestEnv struct {
	gen     *ReportGenerator
	gallery *GalleryStore
	source  *GallerySource
	served  string
	output  string
	reports string
}

func newReportTestEnv(t *testing.T) *reportTestEnv {
	dir := t.TempDir()
	served := filepath.Join(dir, "served_images")
	output := filepath.Join(dir, "output")
	reports := filepath.Join(dir, "reports")
	for _, d := range []string{served, output} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("创建测试目录失败: %v", err)
		}
	}

	gallery := NewGalleryStore(filepath.Join(dir, "temp_gallery_data.json"), served)
	// ComfyUI 不在线：模型清单走空清单分支
	gen := NewReportGenerator(NewComfyClient(""), filepath.Join(dir, "settings.json"), reports, served, output)

	return &reportTestEnv{
		gen:     gen,
		gallery: gallery,
		source:  NewGallerySource(gallery, served),
		served:  served,
		output:  output,
		reports: reports,
	}
}

func zipEntries(t *testing.T, path string) map[string]bool {
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("打开 zip 失败: %v", err)
	}
	defer zr.Close()
	entries := map[string]bool{}
	for _, f := range zr.File {
		entries[f.Name] = true
	}
	return entries
}

func TestGalleryBundleScenario(t *testing.T) {
	env := newReportTestEnv(t)
	if err := env.gallery.SaveSnapshot([]byte(sampleSnapshot)); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}
	if err := os.WriteFile(filepath.Join(env.served, "x.png"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("写测试图片失败: %v", err)
	}

	result := env.gen.CreateBundle(env.source, "test_report.zip")
	if result.Status != "success" {
		t.Fatalf("打包失败: %s", result.Error)
	}

	if result.TotalImages != 1 {
		t.Errorf("total_images = %d", result.TotalImages)
	}
	if len(result.GenerationTypes) != 1 || result.GenerationTypes[0] != model.GenTxt2Img {
		t.Errorf("generation_types = %v", result.GenerationTypes)
	}
	if result.CopiedFiles != 1 || len(result.MissingFiles) != 0 {
		t.Errorf("copied=%d missing=%v", result.CopiedFiles, result.MissingFiles)
	}
	if !result.CSVValidation.Valid || result.CSVValidation.RowCount != 1 {
		t.Errorf("csv_validation: %+v", result.CSVValidation)
	}
	if !result.PathValidation.Valid || result.PathValidation.TotalCSVPaths != 1 {
		t.Errorf("path_validation: %+v", result.PathValidation)
	}
	if result.BundleSizeBytes <= 0 {
		t.Errorf("bundle_size_bytes = %d", result.BundleSizeBytes)
	}

	entries := zipEntries(t, result.ReportPath)
	for _, want := range []string{"results.csv", "config.json", "README.md", "grids/txt2img/x.png"} {
		if !entries[want] {
			t.Errorf("zip 里缺 %s, 实际条目: %v", want, entries)
		}
	}

	// 暂存目录要清干净，报告目录里只剩 zip
	dirents, err := os.ReadDir(env.reports)
	if err != nil {
		t.Fatalf("读报告目录失败: %v", err)
	}
	for _, e := range dirents {
		if e.IsDir() {
			t.Errorf("报告目录里残留了暂存目录: %s", e.Name())
		}
	}
}

func TestGalleryBundleMissingImage(t *testing.T) {
	env := newReportTestEnv(t)
	if err := env.gallery.SaveSnapshot([]byte(sampleSnapshot)); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}
	// 快照引用了 x.png 但文件不存在

	result := env.gen.CreateBundle(env.source, "missing.zip")
	if result.Status != "success" {
		t.Fatalf("缺源文件不应该让打包失败: %s", result.Error)
	}

	if len(result.MissingFiles) != 1 || !strings.Contains(result.MissingFiles[0], "x.png") {
		t.Errorf("missing_files = %v", result.MissingFiles)
	}
	if result.CopiedFiles != 0 {
		t.Errorf("copied_files = %d", result.CopiedFiles)
	}
	// CSV 里那一行还在
	if result.CSVValidation.RowCount != 1 {
		t.Errorf("缺图的记录也要保留在 CSV 里: row_count=%d", result.CSVValidation.RowCount)
	}
	// 路径校验如实报告缺口
	if result.PathValidation.Valid {
		t.Errorf("图片没进 zip，路径校验不应该通过")
	}
	if len(result.PathValidation.MissingPaths) != 1 || result.PathValidation.MissingPaths[0] != "grids/txt2img/x.png" {
		t.Errorf("missing_paths = %v", result.PathValidation.MissingPaths)
	}
}

func TestGalleryBundleEmpty(t *testing.T) {
	env := newReportTestEnv(t)

	// 既没有快照也没有图片：还是一个合法的小包
	result := env.gen.CreateBundle(env.source, "empty.zip")
	if result.Status != "success" {
		t.Fatalf("空画廊打包失败: %s", result.Error)
	}
	if result.TotalImages != 0 {
		t.Errorf("total_images = %d", result.TotalImages)
	}

	entries := zipEntries(t, result.ReportPath)
	for _, want := range []string{"results.csv", "config.json", "README.md"} {
		if !entries[want] {
			t.Errorf("zip 里缺 %s", want)
		}
	}
}

func TestGalleryBundleIdempotentEntryNames(t *testing.T) {
	env := newReportTestEnv(t)
	if err := env.gallery.SaveSnapshot([]byte(sampleSnapshot)); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}
	if err := os.WriteFile(filepath.Join(env.served, "x.png"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("写测试图片失败: %v", err)
	}

	first := env.gen.CreateBundle(env.source, "first.zip")
	second := env.gen.CreateBundle(env.source, "second.zip")
	if first.Status != "success" || second.Status != "success" {
		t.Fatalf("打包失败: %s / %s", first.Error, second.Error)
	}

	names := func(entries map[string]bool) []string {
		out := make([]string, 0, len(entries))
		for name := range entries {
			out = append(out, name)
		}
		sort.Strings(out)
		return out
	}
	a := names(zipEntries(t, first.ReportPath))
	b := names(zipEntries(t, second.ReportPath))
	if len(a) != len(b) {
		t.Fatalf("两次打包条目数不同: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("两次打包条目不同: %v vs %v", a, b)
		}
	}
}

func TestRegistryBundle(t *testing.T) {
	env := newReportTestEnv(t)
	reg := registry.New(filepath.Join(t.TempDir(), "run_registry.json"))
	reg.Add(model.RunConfig{
		RunID:           "r1",
		Timestamp:       "2024-01-02T00:00:00",
		Model:           "sd15",
		Sampler:         "euler",
		Steps:           20,
		CfgScale:        7.0,
		Width:           512,
		Height:          512,
		Workflow:        json.RawMessage(`{"nodes":[]}`),
		GeneratedImages: []string{"a.png", "b.png"},
		GenerationType:  model.GenTxt2Img,
	})
	reg.Add(model.RunConfig{
		RunID:           "r2",
		Timestamp:       "2024-01-01T00:00:00",
		Model:           "sdxl",
		GeneratedImages: []string{"c.png"},
		GenerationType:  model.GenImg2Img,
	})
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if err := os.WriteFile(filepath.Join(env.output, name), []byte("img"), 0o644); err != nil {
			t.Fatalf("写测试图片失败: %v", err)
		}
	}

	result := env.gen.CreateBundle(NewRegistrySource(reg, env.output, nil), "report.zip")
	if result.Status != "success" {
		t.Fatalf("打包失败: %s", result.Error)
	}
	if result.TotalImages != 2 {
		t.Errorf("应该有 2 行 run 记录，实际 %d", result.TotalImages)
	}
	if result.CopiedFiles != 3 {
		t.Errorf("copied_files = %d", result.CopiedFiles)
	}
	if !result.PathValidation.Valid || result.PathValidation.TotalCSVPaths != 3 {
		t.Errorf("path_validation: %+v", result.PathValidation)
	}

	entries := zipEntries(t, result.ReportPath)
	for _, want := range []string{"results.csv", "config.json", "README.md", "images/a.png", "images/b.png", "images/c.png"} {
		if !entries[want] {
			t.Errorf("zip 里缺 %s", want)
		}
	}

	// config.json 里要带完整 run 配置
	zr, err := zip.OpenReader(result.ReportPath)
	if err != nil {
		t.Fatalf("打开 zip 失败: %v", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != "config.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("读 config.json 失败: %v", err)
		}
		var cfg struct {
			ReportMetadata map[string]interface{} `json:"report_metadata"`
			Runs           []model.RunConfig      `json:"runs"`
		}
		if err := json.NewDecoder(rc).Decode(&cfg); err != nil {
			t.Fatalf("解析 config.json 失败: %v", err)
		}
		rc.Close()
		if len(cfg.Runs) != 2 {
			t.Errorf("config.json 里应该有 2 个 run，实际 %d", len(cfg.Runs))
		}
		if cfg.ReportMetadata["total_runs"] != float64(2) {
			t.Errorf("report_metadata.total_runs = %v", cfg.ReportMetadata["total_runs"])
		}
	}
}

func TestRegistryBundleSelectedRuns(t *testing.T) {
	env := newReportTestEnv(t)
	reg := registry.New(filepath.Join(t.TempDir(), "run_registry.json"))
	reg.Add(model.RunConfig{RunID: "r1", Timestamp: "2024-01-01T00:00:00", Model: "sd15"})
	reg.Add(model.RunConfig{RunID: "r2", Timestamp: "2024-01-02T00:00:00", Model: "sdxl"})

	// 指定 run_ids 时只打选中的，找不到的 id 静默跳过
	result := env.gen.CreateBundle(NewRegistrySource(reg, env.output, []string{"r2", "nope"}), "report.zip")
	if result.Status != "success" {
		t.Fatalf("打包失败: %s", result.Error)
	}
	if result.TotalImages != 1 {
		t.Errorf("应该只有 1 行记录，实际 %d", result.TotalImages)
	}
}

func TestRegistryBundleNoRuns(t *testing.T) {
	env := newReportTestEnv(t)
	reg := registry.New(filepath.Join(t.TempDir(), "run_registry.json"))

	result := env.gen.CreateBundle(NewRegistrySource(reg, env.output, nil), "report.zip")
	if result.Status != "error" {
		t.Fatalf("空注册表应该返回 error 结果")
	}
	if !strings.Contains(result.Error, "No runs found") {
		t.Errorf("错误信息不对: %q", result.Error)
	}

	// 不能留下 zip 或暂存目录
	if _, err := os.Stat(filepath.Join(env.reports, "report.zip")); !os.IsNotExist(err) {
		t.Errorf("失败时不应该写出 report.zip")
	}
	if dirents, err := os.ReadDir(env.reports); err == nil && len(dirents) != 0 {
		t.Errorf("失败后报告目录应该是空的: %v", dirents)
	}
}

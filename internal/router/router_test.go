package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"imagelab/internal/config"
	"imagelab/internal/service"
)

func newTestRouter(t *testing.T) (*gin.Engine, *config.Config) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0},
		Storage: config.StorageConfig{
			DataDir:         dir,
			GalleryFile:     "temp_gallery_data.json",
			RegistryFile:    "run_registry.json",
			SettingsFile:    "settings.json",
			ServedImagesDir: "served_images",
			OutputDir:       "output",
			ReportsDir:      "reports",
		},
		// 外部服务全部不在线
		ComfyUI: config.ComfyUIConfig{BaseURL: ""},
		Gemini:  config.GeminiConfig{},
	}
	for _, d := range []string{cfg.ServedImagesPath(), cfg.OutputPath()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("创建测试目录失败: %v", err)
		}
	}
	return SetupRouter(service.NewServiceContext(cfg)), cfg
}

func doJSON(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v, body=%s", err, w.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("状态码 %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["service"] != "ImageLab Report API" {
		t.Errorf("service = %v", body["service"])
	}
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 204 {
		t.Fatalf("预检请求状态码 %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// 非本机来源不放行
	req = httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("外部来源不应该拿到 Allow-Origin: %q", got)
	}
}

func TestRunEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	// 空请求体 -> 400
	w := doJSON(r, http.MethodPost, "/api/runs", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("空请求体状态码 %d", w.Code)
	}

	// 只给 model，其余字段全部走默认值
	w = doJSON(r, http.MethodPost, "/api/runs", []byte(`{"model":"sd15"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("登记 run 失败: %s", w.Body.String())
	}
	body := decodeBody(t, w)
	runID, _ := body["run_id"].(string)
	if runID == "" {
		t.Fatalf("没有返回 run_id: %v", body)
	}

	w = doJSON(r, http.MethodGet, "/api/runs/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("取 run 失败: %d", w.Code)
	}
	run, _ := decodeBody(t, w)["run"].(map[string]interface{})
	if run["model"] != "sd15" {
		t.Errorf("model = %v", run["model"])
	}
	if run["sampler"] != "euler" || run["steps"] != float64(20) || run["cfg_scale"] != float64(7.0) {
		t.Errorf("采样参数默认值不对: %v", run)
	}
	if run["width"] != float64(512) || run["height"] != float64(512) {
		t.Errorf("尺寸默认值不对: %v", run)
	}
	if run["version"] != "1.0.0" || run["generation_type"] != "txt2img" {
		t.Errorf("version/generation_type 默认值不对: %v", run)
	}

	// 列表最新在前
	w = doJSON(r, http.MethodGet, "/api/runs", nil)
	runs, _ := decodeBody(t, w)["runs"].([]interface{})
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}

	// 删除和 404
	w = doJSON(r, http.MethodDelete, "/api/runs/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("删除失败: %d", w.Code)
	}
	w = doJSON(r, http.MethodDelete, "/api/runs/"+runID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("重复删除应该 404，实际 %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/api/runs/"+runID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("删除后再取应该 404，实际 %d", w.Code)
	}
}

func TestGalleryReportWorkflow(t *testing.T) {
	r, _ := newTestRouter(t)

	// 空画廊同步 -> 400
	w := doJSON(r, http.MethodPost, "/api/gallery-data", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("空画廊数据状态码 %d", w.Code)
	}

	snapshot := `{"txt2img":[{"id":"a1","filename":"x.png","prompt":"p","settings":{"model_name":"m"}}],"img2img":[]}`
	w = doJSON(r, http.MethodPost, "/api/gallery-data", []byte(snapshot))
	if w.Code != http.StatusOK {
		t.Fatalf("画廊同步失败: %s", w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/api/reports/generate", []byte(`{"filename":"wf_report.zip"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("生成报告失败: %s", w.Body.String())
	}
	body := decodeBody(t, w)
	if body["report_filename"] != "wf_report.zip" || body["total_images"] != float64(1) {
		t.Errorf("报告结果不对: %v", body)
	}

	// 下载刚生成的报告
	w = doJSON(r, http.MethodGet, "/api/reports/download/wf_report.zip", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("下载报告失败: %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Errorf("下载内容为空")
	}

	// 不存在的报告和路径穿越
	w = doJSON(r, http.MethodGet, "/api/reports/download/no_such.zip", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("不存在的报告应该 404，实际 %d", w.Code)
	}

	// validate-csv 缺参数 -> 400
	w = doJSON(r, http.MethodPost, "/api/reports/validate-csv", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("缺 csv_path 应该 400，实际 %d", w.Code)
	}
}

func TestReportBundleEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	// 注册表为空 -> 500
	w := doJSON(r, http.MethodPost, "/api/report-bundle", []byte(`{}`))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("空注册表应该 500，实际 %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/api/report-bundle/download", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("没有包时下载应该 404，实际 %d", w.Code)
	}

	doJSON(r, http.MethodPost, "/api/runs", []byte(`{"model":"sd15","generated_images":[]}`))

	w = doJSON(r, http.MethodPost, "/api/report-bundle", []byte(`{"run_ids":[]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("打包失败: %s", w.Body.String())
	}
	body := decodeBody(t, w)
	if body["message"] != "Report bundle created successfully" {
		t.Errorf("message = %v", body["message"])
	}
	path, _ := body["file_path"].(string)
	if filepath.Base(path) != "report.zip" {
		t.Errorf("file_path = %q", path)
	}

	w = doJSON(r, http.MethodGet, "/api/report-bundle/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("下载包失败: %d", w.Code)
	}

	// schema 校验：缺列的内容 -> valid=false
	w = doJSON(r, http.MethodPost, "/api/report-bundle/validate", []byte(`{"csv_content":"run_id,timestamp\nr1,t\n"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("validate 失败: %d", w.Code)
	}
	if decodeBody(t, w)["valid"] != false {
		t.Errorf("缺列的 CSV 不应该通过")
	}
}

func TestImageEndpoints(t *testing.T) {
	r, cfg := newTestRouter(t)

	// 没配 GEMINI_API_KEY：img2txt 返回 500
	w := doJSON(r, http.MethodPost, "/api/img2txt", []byte(`{"input_image":"aGVsbG8="}`))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("没有 API key 应该 500，实际 %d", w.Code)
	}
	w = doJSON(r, http.MethodPost, "/api/img2txt", []byte(`{"prompt":"describe"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("缺 input_image 应该 400，实际 %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["message"] != "Missing required field: input_image" {
		t.Errorf("message = %v", body["message"])
	}

	// interrupt：后端不在线，interrupted=false
	w = doJSON(r, http.MethodPost, "/api/img2txt/interrupt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("interrupt 状态码 %d", w.Code)
	}
	body = decodeBody(t, w)
	if body["status"] != "received" || body["interrupted"] != false {
		t.Errorf("interrupt 响应不对: %v", body)
	}

	// 图片服务：有就给，没有 404
	if err := os.WriteFile(filepath.Join(cfg.ServedImagesPath(), "x.png"), []byte("img"), 0o644); err != nil {
		t.Fatalf("写测试图片失败: %v", err)
	}
	w = doJSON(r, http.MethodGet, "/api/images/x.png", nil)
	if w.Code != http.StatusOK {
		t.Errorf("取已有图片失败: %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/api/images/nope.png", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("不存在的图片应该 404，实际 %d", w.Code)
	}
}

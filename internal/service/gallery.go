package service

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"imagelab/internal/model"
)

// GalleryData 画廊快照解析后的形态：生成类型 -> 图片对象列表。
// 图片对象保持前端的原始字段（camelCase、嵌套 settings），转记录时再归一
type GalleryData map[string][]map[string]interface{}

// GalleryStore 画廊快照的存取。前端定期把画廊状态 POST 过来存成快照文件，
// 没有快照时扫描图片目录兜底
type GalleryStore struct {
	snapshotPath    string
	servedImagesDir string
}

func NewGalleryStore(snapshotPath, servedImagesDir string) *GalleryStore {
	return &GalleryStore{
		snapshotPath:    snapshotPath,
		servedImagesDir: servedImagesDir,
	}
}

// SaveSnapshot 原样保存前端发来的画廊 JSON（不重新序列化，字段顺序和
// 未知字段全部保留）
func (s *GalleryStore) SaveSnapshot(raw []byte) error {
	if dir := filepath.Dir(s.snapshotPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建快照目录失败: %w", err)
		}
	}
	if err := os.WriteFile(s.snapshotPath, raw, 0o644); err != nil {
		return fmt.Errorf("写入画廊快照失败: %w", err)
	}
	return nil
}

// Fetch 取当前画廊数据：快照文件可用就用快照，否则扫描图片目录。
// 这一步永远不返回错误，最差也是空数据
func (s *GalleryStore) Fetch() GalleryData {
	if data, ok := s.loadSnapshot(); ok {
		return data
	}
	return s.scanServedImages()
}

func (s *GalleryStore) loadSnapshot() (GalleryData, bool) {
	raw, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("读取画廊快照失败，转为目录扫描: %v", err)
		}
		return nil, false
	}

	var byType map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byType); err != nil {
		log.Printf("解析画廊快照失败，转为目录扫描: %v", err)
		return nil, false
	}

	// 至少要有一个认识的生成类型 key，否则当作无效快照
	known := false
	for _, key := range []string{model.GenTxt2Img, model.GenImg2Img, model.GenExtras} {
		if _, ok := byType[key]; ok {
			known = true
			break
		}
	}
	if !known {
		return nil, false
	}

	data := GalleryData{}
	for genType, rawImages := range byType {
		var images []map[string]interface{}
		if err := json.Unmarshal(rawImages, &images); err != nil {
			// 类型下不是数组就跳过，不让单个坏字段拖垮整个快照
			continue
		}
		data[genType] = images
	}
	return data, true
}

// scanServedImages 扫描图片目录，按文件名猜类型，生成占位记录。
// 目录不存在返回空分组
func (s *GalleryStore) scanServedImages() GalleryData {
	data := GalleryData{
		model.GenTxt2Img: {},
		model.GenImg2Img: {},
		model.GenExtras:  {},
	}

	entries, err := os.ReadDir(s.servedImagesDir)
	if err != nil {
		return data
	}

	// ReadDir 本身按文件名排序，扫描结果因此是确定的
	for _, entry := range entries {
		if entry.IsDir() || !model.IsImageFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		filename := entry.Name()
		genType := model.ClassifyFilename(filename)
		data[genType] = append(data[genType], map[string]interface{}{
			"id":             fmt.Sprintf("scanned_%s_%d", filename, info.ModTime().Unix()),
			"filename":       filename,
			"url":            "/api/images/" + filename,
			"prompt":         "Generated image",
			"negativePrompt": "",
			"timestamp":      isoTime(info.ModTime()),
			"file_size":      info.Size(),
			"settings": map[string]interface{}{
				"model_name":   "unknown",
				"sampler_name": "unknown",
				"steps":        20,
				"cfg_scale":    7.0,
				"width":        512,
				"height":       512,
				"seed":         -1,
			},
		})
	}
	return data
}

// BuildRecords 把画廊数据转成 CSV 记录。类型按固定顺序遍历
//（txt2img、img2img、extras，其余按名字排序），同一快照永远得到同一串记录
func (s *GalleryStore) BuildRecords(data GalleryData) []model.ImageRecord {
	var records []model.ImageRecord
	for _, genType := range typeOrder(data) {
		for batchIndex, image := range data[genType] {
			records = append(records, buildRecord(genType, batchIndex, image))
		}
	}
	return records
}

func typeOrder(data GalleryData) []string {
	var order []string
	seen := map[string]bool{}
	for _, key := range []string{model.GenTxt2Img, model.GenImg2Img, model.GenExtras} {
		if _, ok := data[key]; ok {
			order = append(order, key)
			seen[key] = true
		}
	}
	var rest []string
	for key := range data {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func buildRecord(genType string, batchIndex int, image map[string]interface{}) model.ImageRecord {
	settings, _ := image["settings"].(map[string]interface{})

	// 没有 filename 就从 url 里抠，再不行给个兜底名
	filename := toStr(image["filename"])
	if filename == "" {
		if url := toStr(image["url"]); url != "" {
			filename = filepath.Base(url)
		} else {
			filename = fmt.Sprintf("image_%d.png", batchIndex)
		}
	}

	id := toStr(image["id"])
	if id == "" {
		id = fmt.Sprintf("%s_%d", genType, batchIndex)
	}

	timestamp := toStr(image["timestamp"])
	if timestamp == "" {
		timestamp = NowISO()
	}

	record := model.ImageRecord{
		ID:             id,
		Filename:       filename,
		RelativePath:   fmt.Sprintf("grids/%s/%s", genType, filename),
		Prompt:         toStr(image["prompt"]),
		NegativePrompt: toStr(image["negativePrompt"]),
		ModelName:      toStrDefault(settings["model_name"], "unknown"),
		SamplerName:    toStrDefault(settings["sampler_name"], "unknown"),
		Steps:          toInt(settings["steps"], 20),
		CfgScale:       toFloat(settings["cfg_scale"], 7.0),
		Width:          toInt(settings["width"], 512),
		Height:         toInt(settings["height"], 512),
		Seed:           toInt64(settings["seed"], -1),
		Timestamp:      timestamp,
		GenerationType: genType,
		BatchIndex:     batchIndex,
	}

	if v, ok := settings["denoising_strength"]; ok && truthy(v) {
		denoising := toFloat(v, 0)
		record.DenoisingStrength = &denoising
	}
	if truthy(settings["input_image"]) {
		record.InputImagePath = "grids/input_images/" + filename
	}
	if v, ok := settings["lora"]; ok && truthy(v) {
		if b, err := json.Marshal(v); err == nil {
			record.LoraModels = string(b)
		}
	}
	if v, ok := settings["controlnet"]; ok && truthy(v) {
		if b, err := json.Marshal(v); err == nil {
			record.ControlnetInfo = string(b)
		}
	}
	if v, ok := image["file_size"]; ok && truthy(v) {
		size := toInt64(v, 0)
		record.FileSizeBytes = &size
	}

	return record
}

// NowISO 当前时间的 ISO 字符串（微秒精度，无时区后缀），和前端约定保持一致
func NowISO() string {
	return isoTime(time.Now())
}

func isoTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}

// 前端字段类型不可靠（数字可能是字符串，字符串可能是数字），下面的
// 转换都做最大容错，拿不准就给默认值

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func toStrDefault(v interface{}, def string) string {
	if s := toStr(v); s != "" {
		return s
	}
	return def
}

func toInt(v interface{}, def int) int {
	return int(toInt64(v, int64(def)))
}

func toInt64(v interface{}, def int64) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return int64(f)
		}
	}
	return def
}

func toFloat(v interface{}, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

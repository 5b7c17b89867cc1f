package registry

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"imagelab/internal/model"
)

// RunRegistry 已完成 run 的注册表。内存里是 map，落盘是单个 JSON 文件
// （对象按 run_id 作 key），每次变更整体重写。gin 的 handler 是并发跑的，
// 所以所有操作都拿锁
type RunRegistry struct {
	mu   sync.Mutex
	path string
	runs map[string]model.RunConfig
}

// New 从 path 加载注册表。文件不存在就从空表开始；文件坏了记日志后
// 也从空表开始，启动永远不失败
func New(path string) *RunRegistry {
	r := &RunRegistry{
		path: path,
		runs: make(map[string]model.RunConfig),
	}
	r.load()
	return r
}

func (r *RunRegistry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("读取 run 注册表失败: %v", err)
		}
		return
	}
	var runs map[string]model.RunConfig
	if err := json.Unmarshal(data, &runs); err != nil {
		log.Printf("解析 run 注册表失败，按空表处理: %v", err)
		return
	}
	r.runs = runs
	if r.runs == nil {
		r.runs = make(map[string]model.RunConfig)
	}
}

// save 把整个表重写回文件。写失败只记日志，内存数据不回滚
func (r *RunRegistry) save() {
	data, err := json.MarshalIndent(r.runs, "", "  ")
	if err != nil {
		log.Printf("序列化 run 注册表失败: %v", err)
		return
	}
	if dir := filepath.Dir(r.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		log.Printf("写入 run 注册表失败: %v", err)
	}
}

// Add 登记一个 run（同 run_id 覆盖）并立即落盘
func (r *RunRegistry) Add(run model.RunConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	r.save()
}

// Get 按 run_id 取单个 run
func (r *RunRegistry) Get(runID string) (model.RunConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	return run, ok
}

// All 返回全部 run，按 timestamp 倒序（最新在前）；timestamp 相同时按
// run_id 升序，保证排序结果稳定
func (r *RunRegistry) All() []model.RunConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RunConfig, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// Delete 删除一个 run。存在则删掉并落盘返回 true，不存在返回 false
func (r *RunRegistry) Delete(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[runID]; !ok {
		return false
	}
	delete(r.runs, runID)
	r.save()
	return true
}

// Len 当前登记的 run 数量
func (r *RunRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

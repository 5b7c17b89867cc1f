package service

import (
	"encoding/json"
	"log"
	"os"
)

// LoadSystemSettings 读取系统设置快照，整块并入报告的 config.json。
// 设置对各处前端视图是不透明的：不解析、不重排，原字节原样带走。
// 文件缺失或不是合法 JSON 时退回空对象
func LoadSystemSettings(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("读取系统设置失败，报告里用空设置: %v", err)
		}
		return json.RawMessage(`{}`)
	}
	if !json.Valid(data) {
		log.Printf("系统设置不是合法 JSON，报告里用空设置: %s", path)
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(data)
}

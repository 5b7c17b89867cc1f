package service

import (
	"encoding/csv"
	"fmt"
	"os"

	"imagelab/internal/model"
)

// CSVValidation schema 校验结果，按原样进 HTTP 响应
type CSVValidation struct {
	Valid           bool     `json:"valid"`
	RequiredColumns []string `json:"required_columns"`
	ActualColumns   []string `json:"actual_columns"`
	MissingColumns  []string `json:"missing_columns"`
	ExtraColumns    []string `json:"extra_columns"`
	RowCount        int      `json:"row_count"`
	Error           string   `json:"error,omitempty"`
}

// WriteCSV 写一个带表头的 CSV。rows 的每一行都要和 columns 对齐
func WriteCSV(path string, columns []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建 CSV 失败: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("写入 CSV 表头失败: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("写入 CSV 记录失败: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("写入 CSV 失败: %w", err)
	}
	return nil
}

// WriteRecordsCSV 把图片记录写成 results.csv。没有记录时只写必需列表头，
// 有记录时表头是全部列（必需列在前，可选列在后）
func WriteRecordsCSV(records []model.ImageRecord, path string) error {
	return WriteCSV(path, recordColumns(records), recordRows(records))
}

// WriteRunsCSV 把 run 配置拍平写成 results.csv（19 列固定表头）
func WriteRunsCSV(runs []model.RunConfig, path string) error {
	return WriteCSV(path, model.RunCSVColumns(), runRows(runs))
}

func recordColumns(records []model.ImageRecord) []string {
	if len(records) == 0 {
		return model.RequiredColumns()
	}
	return model.AllColumns()
}

func recordRows(records []model.ImageRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for i := range records {
		rows = append(rows, records[i].CSVRow())
	}
	return rows
}

func runRows(runs []model.RunConfig) [][]string {
	rows := make([][]string, 0, len(runs))
	for i := range runs {
		rows = append(rows, runs[i].CSVRow())
	}
	return rows
}

// ValidateCSVSchema 校验 CSV 表头是否覆盖 required 里的全部列。
// 多出来的列不算错误，只是如实报告。文件读不了时错误进结果而不是抛出去，
// 这个函数可以独立对任意 CSV 调用
func ValidateCSVSchema(path string, required []string) CSVValidation {
	result := CSVValidation{
		RequiredColumns: required,
		ActualColumns:   []string{},
		MissingColumns:  []string{},
		ExtraColumns:    []string{},
	}

	f, err := os.Open(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		// 空文件等于一个列都没有，必需列全缺
		result.MissingColumns = append(result.MissingColumns, required...)
		return result
	}
	result.ActualColumns = header

	actual := map[string]bool{}
	for _, col := range header {
		actual[col] = true
	}
	requiredSet := map[string]bool{}
	for _, col := range required {
		requiredSet[col] = true
	}

	// 缺失列按必需列顺序、多余列按表头顺序输出，结果是确定的
	for _, col := range required {
		if !actual[col] {
			result.MissingColumns = append(result.MissingColumns, col)
		}
	}
	for _, col := range header {
		if !requiredSet[col] {
			result.ExtraColumns = append(result.ExtraColumns, col)
		}
	}

	for {
		if _, err := r.Read(); err != nil {
			break
		}
		result.RowCount++
	}

	result.Valid = len(result.MissingColumns) == 0
	return result
}

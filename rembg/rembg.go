package rembg

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"
)

// 上游支持的模型，闭集
const (
	ModelU2Net    = "u2net"
	ModelSilueta  = "silueta"
	ModelHumanSeg = "u2net_human_seg"
	ModelISNet    = "isnet-general-use"

	DefaultModel = ModelU2Net
)

// DownloadName 上游约定的结果文件名
const DownloadName = "freigestellt.png"

// 上游在成功响应里附带的调试头
const (
	HeaderProcessingTime = "X-Processing-Time"
	HeaderModelUsed      = "X-Model-Used"
)

var knownModels = []string{ModelU2Net, ModelSilueta, ModelHumanSeg, ModelISNet}

func KnownModels() []string {
	return append([]string(nil), knownModels...)
}

func ValidModel(name string) bool {
	for _, m := range knownModels {
		if m == name {
			return true
		}
	}
	return false
}

// ErrNoImage 没有选择图片，直接拒绝，不发起网络请求
var ErrNoImage = errors.New("no image provided")

// APIError 上游返回非 2xx 状态码，响应体不再解析
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remove-bg request failed with status %d", e.StatusCode)
}

type SystemInfo struct {
	TotalMemoryGB float64 `json:"total_memory_gb"`
}

// ServiceStatus GET / 返回的服务信息
type ServiceStatus struct {
	Status          string            `json:"status"`
	Service         string            `json:"service"`
	Version         string            `json:"version"`
	PoweredBy       string            `json:"powered_by"`
	AvailableModels []string          `json:"available_models"`
	SystemInfo      SystemInfo        `json:"system_info"`
	Endpoints       map[string]string `json:"endpoints,omitempty"`
}

// ModelsInfo GET /models 返回的模型清单
type ModelsInfo struct {
	AvailableModels map[string]string `json:"available_models"`
	Default         string            `json:"default"`
	Recommendations map[string]string `json:"recommendations"`
}

// Result 一次成功的抠图结果
type Result struct {
	// PNG 上游返回的图片原始字节
	PNG []byte
	// ProcessingTime 缺头时为 "N/A"
	ProcessingTime string
	// ModelUsed 缺头时回落到请求的模型
	ModelUsed string
}

// Image 把结果字节解码为 image.Image
func (r *Result) Image() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(r.PNG))
	return img, err
}

// BatchItem POST /batch 里单张图片的结果
type BatchItem struct {
	Index          int    `json:"index"`
	Filename       string `json:"filename"`
	Success        bool   `json:"success"`
	ProcessingTime string `json:"processing_time,omitempty"`
	ModelUsed      string `json:"model_used,omitempty"`
	ImageData      string `json:"image_data,omitempty"`
	Error          string `json:"error,omitempty"`
}

const dataURLPrefix = "data:image/png;base64,"

// PNG 把 data-URL 形式的 image_data 解码为原始字节
func (it *BatchItem) PNG() ([]byte, error) {
	if !it.Success {
		return nil, fmt.Errorf("batch item %d failed: %s", it.Index, it.Error)
	}
	data := strings.TrimPrefix(it.ImageData, dataURLPrefix)
	return base64.StdEncoding.DecodeString(data)
}

type BatchSummary struct {
	TotalImages int    `json:"total_images"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	TotalTime   string `json:"total_time"`
	AverageTime string `json:"average_time"`
}

type BatchResult struct {
	Summary BatchSummary `json:"batch_results"`
	Results []BatchItem  `json:"results"`
}

// EncodePNG 编码辅助，给 CLI 的 -trim/-bg 后处理用
func EncodePNG(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

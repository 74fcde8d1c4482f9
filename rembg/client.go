package rembg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	nhttp "github.com/chaos-io/freistellen/util/http"
)

// Client freistellen.online REMBG API 客户端。
// JSON 端点走 util/http 的封装，二进制端点（/remove-bg）直连，
// 因为要读原始响应体和调试头。
type Client struct {
	baseURL string
	httpCli *http.Client
	jsonCli nhttp.IClient
	timeout time.Duration
	logger  *zap.Logger
}

type Option func(*Client)

// WithTimeout 单次请求超时；0 表示用 transport 默认
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) { c.httpCli = cli }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCli: &http.Client{},
		jsonCli: nhttp.NewHTTPClient(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status 读取服务根端点。网络错误、非 2xx、非 JSON、缺字段都按失败处理，不重试。
func (c *Client) Status(ctx context.Context) (*ServiceStatus, error) {
	status := &ServiceStatus{}
	err := c.jsonCli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.baseURL + "/",
		Method:     http.MethodGet,
		Response:   status,
		Timeout:    c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	if status.Service == "" || status.Version == "" {
		return nil, fmt.Errorf("load status: response missing service/version fields")
	}
	return status, nil
}

// Models 读取可用模型清单
func (c *Client) Models(ctx context.Context) (*ModelsInfo, error) {
	info := &ModelsInfo{}
	err := c.jsonCli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.baseURL + "/models",
		Method:     http.MethodGet,
		Response:   info,
		Timeout:    c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	return info, nil
}

// Request 一次抠图请求
type Request struct {
	// Image 图片内容，必填
	Image io.Reader
	// Filename multipart 里的文件名，空时用 image.png
	Filename string
	// Model 闭集之一，空时用 DefaultModel
	Model string
	// MaxSize >0 时作为 max_size 字段传给上游
	MaxSize int
}

// RemoveBackground 核心操作：multipart POST /remove-bg。
// 没有图片或模型不在闭集内时直接失败，不发起网络请求。
func (c *Client) RemoveBackground(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Image == nil {
		return nil, ErrNoImage
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	if !ValidModel(model) {
		return nil, fmt.Errorf("unknown model %q", model)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := req.Filename
	if filename == "" {
		filename = "image.png"
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Image); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}
	_ = writer.WriteField("model", model)
	if req.MaxSize > 0 {
		_ = writer.WriteField("max_size", strconv.Itoa(req.MaxSize))
	}
	_ = writer.Close()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/remove-bg", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remove background: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 错误响应体不解析
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	result := &Result{
		PNG:            data,
		ProcessingTime: "N/A",
		ModelUsed:      model,
	}
	if v := resp.Header.Get(HeaderProcessingTime); v != "" {
		result.ProcessingTime = v
	}
	if v := resp.Header.Get(HeaderModelUsed); v != "" {
		result.ModelUsed = v
	}

	c.logger.Debug("removed background",
		zap.String("model", result.ModelUsed),
		zap.String("processing_time", result.ProcessingTime),
		zap.Int("bytes", len(result.PNG)),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// RemoveFile 便利方法：从本地路径读图并抠图
func (c *Client) RemoveFile(ctx context.Context, path, model string, maxSize int) (*Result, error) {
	if path == "" {
		return nil, ErrNoImage
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	return c.RemoveBackground(ctx, &Request{
		Image:    file,
		Filename: filepath.Base(path),
		Model:    model,
		MaxSize:  maxSize,
	})
}

// BatchFile 批量接口的单个输入
type BatchFile struct {
	Name string
	Data io.Reader
}

// MaxBatchSize 上游限制每批最多 3 张（Railway Hobby Plan）
const MaxBatchSize = 3

// RemoveBatch 批量抠图：multipart POST /batch，结果以 base64 JSON 返回
func (c *Client) RemoveBatch(ctx context.Context, files []BatchFile, model string) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, ErrNoImage
	}
	if len(files) > MaxBatchSize {
		return nil, fmt.Errorf("at most %d images per batch, got %d", MaxBatchSize, len(files))
	}
	if model == "" {
		model = DefaultModel
	}
	if !ValidModel(model) {
		return nil, fmt.Errorf("unknown model %q", model)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("images", f.Name)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return nil, fmt.Errorf("copy form file: %w", err)
		}
	}
	_ = writer.WriteField("model", model)
	_ = writer.Close()

	batch := &BatchResult{}
	err := c.jsonCli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.baseURL + "/batch",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   batch,
		Timeout:    c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("batch remove: %w", err)
	}
	return batch, nil
}

// Package console 提供 REMBG API 的手工测试台：
// 一个内嵌的测试页面加上给页面用的两个代理端点。
package console

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/freistellen/logging"
	"github.com/chaos-io/freistellen/rembg"
)

//go:embed index.html
var indexHTML []byte

// API 控制台依赖的上游客户端能力
type API interface {
	Status(ctx context.Context) (*rembg.ServiceStatus, error)
	RemoveBackground(ctx context.Context, req *rembg.Request) (*rembg.Result, error)
}

// 提交令牌相关的响应头
const (
	HeaderSubmissionToken = "X-Submission-Token"
	HeaderSubmissionStale = "X-Submission-Stale"
)

type Server struct {
	api     API
	logger  *zap.Logger
	tracker *Tracker
	status  *statusCache
}

func NewServer(api API, logger *zap.Logger) *Server {
	return &Server{
		api:     api,
		logger:  logger.Named("console"),
		tracker: NewTracker(),
		status:  newStatusCache(api, logger.Named("status_cache")),
	}
}

// Start 启动后台状态刷新；schedule 为空时跳过
func (s *Server) Start(schedule string) error {
	return s.status.start(schedule)
}

func (s *Server) Stop() {
	s.status.stop()
}

// RegisterRoutes 把控制台挂到 Gin 路由上
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/", s.handleIndex)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/status", s.handleStatus)
	router.POST("/api/remove-bg", s.handleRemoveBG)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.status.get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service":          status.Service,
		"version":          status.Version,
		"powered_by":       status.PoweredBy,
		"total_memory_gb":  status.SystemInfo.TotalMemoryGB,
		"available_models": status.AvailableModels,
	})
}

func (s *Server) handleRemoveBG(c *gin.Context) {
	token := s.tracker.Begin()
	c.Header(HeaderSubmissionToken, token)
	reqLogger := logging.WithRequest(s.logger, token)

	// 没选文件：直接 400，不碰上游
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	model := c.PostForm("model")
	if model != "" && !rembg.ValidModel(model) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown model %q", model)})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer func() {
		_ = file.Close()
	}()

	result, err := s.api.RemoveBackground(c.Request.Context(), &rembg.Request{
		Image:    file,
		Filename: fileHeader.Filename,
		Model:    model,
	})
	if err != nil {
		var apiErr *rembg.APIError
		if errors.As(err, &apiErr) {
			// 只透出数字状态码，上游错误响应体不解析
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("upstream returned status %d", apiErr.StatusCode)})
			return
		}
		reqLogger.Error("remove-bg failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// 在响应被写出的这一刻判断是否已被更新的提交顶掉
	if !s.tracker.IsCurrent(token) {
		c.Header(HeaderSubmissionStale, "true")
		reqLogger.Debug("stale submission resolved", zap.String("latest", s.tracker.Latest()))
	}

	c.Header(rembg.HeaderProcessingTime, result.ProcessingTime)
	c.Header(rembg.HeaderModelUsed, result.ModelUsed)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", rembg.DownloadName))
	c.Data(http.StatusOK, "image/png", result.PNG)
}

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/freistellen/config"
	"github.com/chaos-io/freistellen/console"
	"github.com/chaos-io/freistellen/logging"
	"github.com/chaos-io/freistellen/rembg"
	"github.com/chaos-io/freistellen/util"
)

var (
	serveFlag  = flag.Bool("serve", false, "启动测试台 Web 服务")
	statusFlag = flag.Bool("status", false, "打印上游服务状态")
	modelsFlag = flag.Bool("models", false, "打印可用模型")
	input      = flag.String("input", "", "输入图片，本地路径或 http(s) URL")
	model      = flag.String("model", rembg.DefaultModel, "抠图模型")
	maxSize    = flag.Int("max-size", 0, "上传前本地缩放的最长边，0 不缩放")
	output     = flag.String("output", rembg.DownloadName, "输出文件")
	trim       = flag.Bool("trim", false, "裁掉结果四周的透明边")
	bg         = flag.String("bg", "", "结果平铺到纯色背景，如 #ffffff")
	batchDir   = flag.String("batch", "", "批量模式：目录下最多 3 张图片")
)

func main() {
	flag.Parse()
	cfg := config.Load()

	client := rembg.New(cfg.APIBaseURL, rembg.WithTimeout(cfg.RequestTimeout))
	ctx := context.Background()

	switch {
	case *serveFlag:
		serve(cfg)
	case *statusFlag:
		printStatus(ctx, client)
	case *modelsFlag:
		printModels(ctx, client)
	case *batchDir != "":
		runBatch(ctx, client, *batchDir)
	case *input != "":
		runRemove(ctx, client)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func serve(cfg *config.Config) {
	logger, err := logging.NewLogger()
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	client := rembg.New(cfg.APIBaseURL,
		rembg.WithTimeout(cfg.RequestTimeout),
		rembg.WithLogger(logger.Named("rembg")))

	srv := console.NewServer(client, logger)
	if err := srv.Start(cfg.StatusRefresh); err != nil {
		logger.Fatal("failed to start status refresh", zap.Error(err))
	}
	defer srv.Stop()

	router := gin.Default()
	srv.RegisterRoutes(router)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("console listening",
			zap.String("addr", httpServer.Addr),
			zap.String("upstream", cfg.APIBaseURL))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	if err := httpServer.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func printStatus(ctx context.Context, client *rembg.Client) {
	status, err := client.Status(ctx)
	if err != nil {
		log.Fatal("Failed to load status:", err)
	}
	fmt.Printf("%s v%s (%s)\n", status.Service, status.Version, status.PoweredBy)
	fmt.Printf("memory: %.1f GB\n", status.SystemInfo.TotalMemoryGB)
	fmt.Printf("models: %s\n", strings.Join(status.AvailableModels, ", "))
}

func printModels(ctx context.Context, client *rembg.Client) {
	info, err := client.Models(ctx)
	if err != nil {
		log.Fatal("Failed to load models:", err)
	}
	for name, desc := range info.AvailableModels {
		marker := " "
		if name == info.Default {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s\n", marker, name, desc)
	}
}

func runRemove(ctx context.Context, client *rembg.Client) {
	defer util.Trace("remove-bg")()

	var result *rembg.Result
	var err error

	if *maxSize > 0 || strings.HasPrefix(*input, "http://") || strings.HasPrefix(*input, "https://") {
		result, err = removeDecoded(ctx, client)
	} else {
		// 本地文件且不用预处理时直接流式上传
		result, err = client.RemoveFile(ctx, *input, *model, 0)
	}
	if err != nil {
		log.Fatal("Failed to remove background:", err)
	}

	data, err := postprocess(result)
	if err != nil {
		log.Fatal("Failed to postprocess result:", err)
	}

	if err := util.WriteFile(data, *output); err != nil {
		log.Fatal("Failed to write output:", err)
	}
	log.Printf("Done! %s (model %s, %s)", *output, result.ModelUsed, result.ProcessingTime)
}

// removeDecoded 先把输入解码成 image.Image（URL 下载或本地缩放需要），再上传
func removeDecoded(ctx context.Context, client *rembg.Client) (*rembg.Result, error) {
	img, err := loadInput(*input)
	if err != nil {
		return nil, err
	}
	if *maxSize > 0 {
		img = rembg.FitWithin(img, *maxSize)
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return client.RemoveBackground(ctx, &rembg.Request{
		Image:    buf,
		Filename: filepath.Base(*input),
		Model:    *model,
	})
}

func loadInput(path string) (image.Image, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return util.DownloadImage(path)
	}
	return util.OpenImage(path)
}

// postprocess 按 -trim / -bg 做结果后处理，没开就原样返回
func postprocess(result *rembg.Result) ([]byte, error) {
	if !*trim && *bg == "" {
		return result.PNG, nil
	}

	img, err := result.Image()
	if err != nil {
		return nil, err
	}
	if *trim {
		img, err = rembg.TrimTransparent(img, 0.8)
		if err != nil {
			return nil, err
		}
	}
	if *bg != "" {
		c, err := parseHexColor(*bg)
		if err != nil {
			return nil, err
		}
		img = rembg.Flatten(img, c)
	}
	return rembg.EncodePNG(img)
}

func runBatch(ctx context.Context, client *rembg.Client, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatal("Failed to read batch dir:", err)
	}

	var files []rembg.BatchFile
	var readers []*os.File
	defer func() {
		for _, f := range readers {
			_ = f.Close()
		}
	}()
	for _, entry := range entries {
		if entry.IsDir() || len(files) == rembg.MaxBatchSize {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Fatal("Failed to open image:", err)
		}
		readers = append(readers, f)
		files = append(files, rembg.BatchFile{Name: entry.Name(), Data: f})
	}

	batch, err := client.RemoveBatch(ctx, files, *model)
	if err != nil {
		log.Fatal("Failed to batch remove:", err)
	}

	outDir := "./output"
	_ = os.MkdirAll(outDir, os.ModePerm)
	for _, item := range batch.Results {
		if !item.Success {
			log.Printf("faild to process %s, %s", item.Filename, item.Error)
			continue
		}
		data, err := item.PNG()
		if err != nil {
			log.Printf("faild to decode %s, %v", item.Filename, err)
			continue
		}
		name := strings.TrimSuffix(item.Filename, filepath.Ext(item.Filename)) + "_freigestellt.png"
		if err := util.WriteFile(data, filepath.Join(outDir, name)); err != nil {
			log.Printf("faild to write %s, %v", name, err)
		}
	}
	log.Printf("Done! %d/%d images in %s (total %s)",
		batch.Summary.Successful, batch.Summary.TotalImages, outDir, batch.Summary.TotalTime)
}

// parseHexColor 解析 #rgb / #rrggbb
func parseHexColor(s string) (color.Color, error) {
	s = strings.TrimPrefix(s, "#")
	var r, g, b uint8
	switch len(s) {
	case 3:
		if _, err := fmt.Sscanf(s, "%1x%1x%1x", &r, &g, &b); err != nil {
			return nil, fmt.Errorf("invalid color %q", s)
		}
		r, g, b = r*17, g*17, b*17
	case 6:
		if _, err := fmt.Sscanf(s, "%2x%2x%2x", &r, &g, &b); err != nil {
			return nil, fmt.Errorf("invalid color %q", s)
		}
	default:
		return nil, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

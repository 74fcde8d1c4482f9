package rembg

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// ErrNoForeground 抠图结果里没有任何前景像素
var ErrNoForeground = errors.New("未检测到前景区域")

// FitWithin 缩放（最长边 <= maxSize），对应上游的 max_size 参数，
// 上传前先在本地缩小可以省流量
func FitWithin(img image.Image, maxSize int) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)

	return resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
}

// HasAlpha 检查 alpha 通道是否 真的包含透明信息
// 只要存在非 255（非完全不透明），就认为已经抠过图
func HasAlpha(img image.Image) bool {
	src := toNRGBA(img)
	for i := 3; i < len(src.Pix); i += 4 {
		if src.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// TrimTransparent 把抠图结果裁剪到主体的 alpha bounding box，
// 去掉四周的透明边
func TrimTransparent(img image.Image, threshold float64) (image.Image, error) {
	src := toNRGBA(img)
	bbox, err := alphaBBox(src, threshold)
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bbox.Dx(), bbox.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bbox.Min, draw.Src)
	return dst, nil
}

// Flatten 把抠图结果平铺到纯色背景上
func Flatten(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// alphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作“主体”，找所有主体像素的坐标
func alphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			a := img.Pix[row+x*4+3]
			if a > th {
				found = true
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if !found {
		return image.Rectangle{}, ErrNoForeground
	}

	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

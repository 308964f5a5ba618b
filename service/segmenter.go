package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/TIANLI0/MaskKit/geometry"
	"gocv.io/x/gocv"
)

var ErrEmptyImage = errors.New("image is empty")

// Segment 将 BGR 图像转换为 RGB 后调用模型一次，并把每个带非空掩码实例的边界转换为多边形。
// 没有检测结果时返回空列表；模型错误原样向上传递，不返回部分结果。
func Segment(ctx context.Context, img gocv.Mat, m Model) ([]geometry.Polygon, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	rgb, err := toModelOrder(img)
	if err != nil {
		return nil, err
	}
	defer rgb.Close()

	instances, err := m.Predict(ctx, rgb)
	if err != nil {
		return nil, fmt.Errorf("model %s inference failed: %w", m.Name(), err)
	}

	polygons := make([]geometry.Polygon, 0, len(instances))
	for _, inst := range instances {
		if inst.Mask == nil || len(inst.Mask.Boundary) == 0 {
			continue
		}
		polygons = append(polygons, inst.Mask.Boundary)
	}
	return polygons, nil
}

// toModelOrder 解码器输出 BGR，模型需要 RGB
func toModelOrder(img gocv.Mat) (gocv.Mat, error) {
	if img.Channels() != 3 {
		return gocv.Mat{}, fmt.Errorf("expected a 3-channel image, got %d channels", img.Channels())
	}
	rgb := gocv.NewMat()
	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)
	if rgb.Empty() {
		rgb.Close()
		return gocv.Mat{}, fmt.Errorf("failed to convert image to RGB")
	}
	return rgb, nil
}

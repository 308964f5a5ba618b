package service

import (
	"context"

	"github.com/TIANLI0/MaskKit/geometry"
	"gocv.io/x/gocv"
)

// Model 已加载的实例分割模型，启动时创建一次并在请求间只读共享
type Model interface {
	// Predict 对 RGB 图像推理一次，返回的实例顺序即模型输出顺序。
	// 调用返回后不得再持有 img。
	Predict(ctx context.Context, img gocv.Mat) ([]Instance, error)
	Name() string
	Close() error
}

// Instance 模型输出的单个实例
type Instance struct {
	ClassID    int
	Confidence float32
	Mask       *Mask // 为 nil 表示只有检测框没有分割结果
}

// Mask 实例掩码的矢量边界（图像像素坐标）
type Mask struct {
	Boundary geometry.Polygon
}

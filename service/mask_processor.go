package service

import (
	"image"

	"github.com/TIANLI0/MaskKit/geometry"
	"gocv.io/x/gocv"
)

// MaskProcessor 负责把栅格掩码转换为矢量边界
type MaskProcessor struct {
	kernelSize int
}

// NewMaskProcessor kernelSize 小于 2 时跳过形态学处理
func NewMaskProcessor(kernelSize int) *MaskProcessor {
	return &MaskProcessor{kernelSize: kernelSize}
}

// MorphologyOptimize 开运算去噪点，闭运算填小孔
func (mp *MaskProcessor) MorphologyOptimize(mask *gocv.Mat) gocv.Mat {
	if mp.kernelSize < 2 {
		return mask.Clone()
	}
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: mp.kernelSize, Y: mp.kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	opened.Close()

	return closed
}

// LargestContour 返回二值掩码中面积最大的外轮廓，掩码为空时 ok 为 false
func (mp *MaskProcessor) LargestContour(mask *gocv.Mat) (geometry.Polygon, bool) {
	cleaned := mp.MorphologyOptimize(mask)
	defer cleaned.Close()

	contours := gocv.FindContours(cleaned, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return nil, false
	}

	maxArea := -1.0
	maxIndex := 0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			maxIndex = i
		}
	}

	points := contours.At(maxIndex).ToPoints()
	polygon := make(geometry.Polygon, len(points))
	for i, p := range points {
		polygon[i] = geometry.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return polygon, true
}

package service

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/geometry"
	"github.com/TIANLI0/MaskKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// YoloSegModel 通过 gocv DNN 模块运行 YOLOv8-seg ONNX 模型
//
// 输出 0 为 [1, 4+nc+nm, N] 的检测张量，输出 1 为 [1, nm, ph, pw] 的掩码原型。
// cv::dnn::Net 不保证并发安全，Forward 由 mu 串行化。
type YoloSegModel struct {
	mu            sync.Mutex
	net           gocv.Net
	outNames      []string
	name          string
	inputSize     int
	confidence    float32
	iou           float32
	maskThreshold float32
	maskProcessor *MaskProcessor
}

// candidate 置信度过滤后、NMS 之前的检测结果，坐标位于模型输入空间
type candidate struct {
	cx, cy, w, h float32
	classID      int
	score        float32
	coeffs       []float32
}

func (c candidate) rect() image.Rectangle {
	return image.Rect(int(c.cx-c.w/2), int(c.cy-c.h/2), int(c.cx+c.w/2), int(c.cy+c.h/2))
}

func NewYoloSegModel(cfg *config.ModelConfig) (*YoloSegModel, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("model file not accessible: %w", err)
	}
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("model input size must be positive, got %d", cfg.InputSize)
	}

	net := gocv.ReadNetFromONNX(cfg.Path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load onnx model %s", cfg.Path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	outNames := outputNames(&net)
	if len(outNames) < 2 {
		net.Close()
		return nil, fmt.Errorf("model %s has %d outputs, a segmentation model needs detection and prototype outputs", cfg.Path, len(outNames))
	}

	m := &YoloSegModel{
		net:           net,
		outNames:      outNames,
		name:          "yolov8-seg:" + filepath.Base(cfg.Path),
		inputSize:     cfg.InputSize,
		confidence:    cfg.Confidence,
		iou:           cfg.IoU,
		maskThreshold: cfg.MaskThreshold,
		maskProcessor: NewMaskProcessor(3),
	}

	utils.Logger.Info("segmentation model loaded",
		zap.String("model", m.name),
		zap.Strings("outputs", outNames),
		zap.Int("input_size", cfg.InputSize))

	return m, nil
}

func outputNames(net *gocv.Net) []string {
	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		layer.Close()
	}
	return names
}

func (m *YoloSegModel) Name() string {
	return m.name
}

func (m *YoloSegModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// Predict 输入为 RGB 图像，直接缩放到 inputSize（不做 letterbox）
func (m *YoloSegModel) Predict(ctx context.Context, img gocv.Mat) ([]Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, height := img.Cols(), img.Rows()

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(m.inputSize, m.inputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	outs := m.net.ForwardLayers(m.outNames)
	m.mu.Unlock()
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	det, proto, err := splitOutputs(outs)
	if err != nil {
		return nil, err
	}
	detData, err := det.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read detection output: %w", err)
	}
	protoData, err := proto.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read prototype output: %w", err)
	}

	detDims, protoDims := det.Size(), proto.Size()
	nm, ph, pw := protoDims[1], protoDims[2], protoDims[3]

	candidates, err := parseCandidates(detData, detDims[1], detDims[2], nm, m.confidence)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Instance{}, nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.rect()
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(boxes, scores, m.confidence, m.iou)

	instances := make([]Instance, 0, len(keep))
	for _, idx := range keep {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := candidates[idx]
		inst := Instance{ClassID: c.classID, Confidence: c.score}

		raster := rasterizeMask(c, protoData, nm, ph, pw, m.inputSize, m.maskThreshold)
		if boundary, ok := m.traceMask(raster, ph, pw, width, height); ok {
			inst.Mask = &Mask{Boundary: boundary}
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// traceMask 将原型分辨率的掩码放大到原图尺寸并提取最大外轮廓
func (m *YoloSegModel) traceMask(raster []byte, ph, pw, width, height int) (geometry.Polygon, bool) {
	if raster == nil {
		return nil, false
	}
	small, err := gocv.NewMatFromBytes(ph, pw, gocv.MatTypeCV8U, raster)
	if err != nil {
		utils.Logger.Warn("failed to build mask mat", zap.Error(err))
		return nil, false
	}
	defer small.Close()

	full := gocv.NewMat()
	defer full.Close()
	gocv.Resize(small, &full, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	gocv.Threshold(full, &full, 127, 255, gocv.ThresholdBinary)

	return m.maskProcessor.LargestContour(&full)
}

func splitOutputs(outs []gocv.Mat) (det, proto gocv.Mat, err error) {
	var haveDet, haveProto bool
	for _, out := range outs {
		switch len(out.Size()) {
		case 3:
			det, haveDet = out, true
		case 4:
			proto, haveProto = out, true
		}
	}
	if !haveDet || !haveProto {
		return det, proto, fmt.Errorf("unexpected model outputs: detection=%v prototype=%v", haveDet, haveProto)
	}
	return det, proto, nil
}

// parseCandidates 解析按通道优先排列的 [channels, anchors] 检测张量
func parseCandidates(data []float32, channels, anchors, nm int, conf float32) ([]candidate, error) {
	nc := channels - 4 - nm
	if nc <= 0 {
		return nil, fmt.Errorf("detection output has %d channels, too few for %d mask coefficients", channels, nm)
	}
	if len(data) < channels*anchors {
		return nil, fmt.Errorf("detection output has %d values, expected %d", len(data), channels*anchors)
	}

	at := func(ch, j int) float32 { return data[ch*anchors+j] }

	var candidates []candidate
	for j := 0; j < anchors; j++ {
		best, bestClass := float32(-1), -1
		for k := 0; k < nc; k++ {
			if s := at(4+k, j); s > best {
				best, bestClass = s, k
			}
		}
		if best < conf {
			continue
		}

		coeffs := make([]float32, nm)
		for k := range coeffs {
			coeffs[k] = at(4+nc+k, j)
		}
		candidates = append(candidates, candidate{
			cx: at(0, j), cy: at(1, j), w: at(2, j), h: at(3, j),
			classID: bestClass,
			score:   best,
			coeffs:  coeffs,
		})
	}
	return candidates, nil
}

// rasterizeMask 在原型分辨率上计算 sigmoid(coeffs·protos)，只保留检测框内的像素
func rasterizeMask(c candidate, protos []float32, nm, ph, pw, inputSize int, threshold float32) []byte {
	plane := ph * pw
	if len(protos) < nm*plane || len(c.coeffs) < nm {
		return nil
	}

	sx := float64(pw) / float64(inputSize)
	sy := float64(ph) / float64(inputSize)
	x0 := clampInt(int(math.Floor(float64(c.cx-c.w/2)*sx)), 0, pw)
	x1 := clampInt(int(math.Ceil(float64(c.cx+c.w/2)*sx)), 0, pw)
	y0 := clampInt(int(math.Floor(float64(c.cy-c.h/2)*sy)), 0, ph)
	y1 := clampInt(int(math.Ceil(float64(c.cy+c.h/2)*sy)), 0, ph)
	if x1 <= x0 || y1 <= y0 {
		return nil
	}

	raster := make([]byte, plane)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			var v float32
			for k := 0; k < nm; k++ {
				v += c.coeffs[k] * protos[k*plane+y*pw+x]
			}
			if sigmoid(v) > threshold {
				raster[y*pw+x] = 255
			}
		}
	}
	return raster
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

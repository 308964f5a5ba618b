package service

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"sync"
	"testing"

	"github.com/TIANLI0/MaskKit/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// MockModel 记录收到的像素并返回预设实例
type MockModel struct {
	mu        sync.Mutex
	instances []Instance
	err       error
	block     chan struct{}
	calls     int
	lastInput []byte
	started   chan struct{}
}

func (m *MockModel) Predict(ctx context.Context, img gocv.Mat) ([]Instance, error) {
	m.mu.Lock()
	m.calls++
	m.lastInput = img.ToBytes()
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.instances, m.err
}

func (m *MockModel) Name() string { return "mock" }
func (m *MockModel) Close() error { return nil }

func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func square(x, y, size float64) geometry.Polygon {
	return geometry.Polygon{{X: x, Y: y}, {X: x + size, Y: y}, {X: x + size, Y: y + size}, {X: x, Y: y + size}}
}

func solidImage(t *testing.T, rows, cols int) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), rows, cols, gocv.MatTypeCV8UC3)
	require.False(t, img.Empty())
	return img
}

func TestSegment_ConvertsBGRToRGB(t *testing.T) {
	bgr := []byte{10, 20, 30, 40, 50, 60}
	img, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC3, bgr)
	require.NoError(t, err)
	defer img.Close()

	m := &MockModel{}
	_, err = Segment(context.Background(), img, m)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, []byte{30, 20, 10, 60, 50, 40}, m.lastInput)
	// 调用方的图像不被修改
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60}, img.ToBytes())
}

func TestSegment_PreservesModelOrder(t *testing.T) {
	img := solidImage(t, 20, 20)
	defer img.Close()

	m := &MockModel{instances: []Instance{
		{Confidence: 0.9, Mask: &Mask{Boundary: square(0, 0, 2)}},
		{Confidence: 0.8},
		{Confidence: 0.7, Mask: &Mask{Boundary: square(5, 5, 3)}},
		{Confidence: 0.6, Mask: &Mask{Boundary: geometry.Polygon{{X: 1, Y: 1}}}},
	}}

	polygons, err := Segment(context.Background(), img, m)
	require.NoError(t, err)

	require.Len(t, polygons, 3)
	assert.Equal(t, square(0, 0, 2), polygons[0])
	assert.Equal(t, square(5, 5, 3), polygons[1])
	// 退化多边形原样保留，面积计算时记为 0
	assert.Len(t, polygons[2], 1)
}

func TestSegment_NoDetections(t *testing.T) {
	img := solidImage(t, 8, 8)
	defer img.Close()

	for name, instances := range map[string][]Instance{
		"nil":           nil,
		"empty":         {},
		"only no masks": {{Confidence: 0.5}, {Confidence: 0.4}},
		"empty boundaries": {
			{Confidence: 0.5, Mask: &Mask{}},
			{Confidence: 0.4, Mask: &Mask{Boundary: geometry.Polygon{}}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			polygons, err := Segment(context.Background(), img, &MockModel{instances: instances})
			require.NoError(t, err)
			assert.NotNil(t, polygons)
			assert.Empty(t, polygons)
		})
	}
}

func TestSegment_ResultRoundTripsThroughArea(t *testing.T) {
	img := solidImage(t, 8, 8)
	defer img.Close()

	m := &MockModel{instances: []Instance{
		{Mask: &Mask{}},
		{Mask: &Mask{Boundary: square(0, 0, 2)}},
	}}
	polygons, err := Segment(context.Background(), img, m)
	require.NoError(t, err)

	data, err := json.Marshal(polygons)
	require.NoError(t, err)
	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	total, err := geometry.TotalAreaJSON(raw)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, total, 1e-12)
}

func TestSegment_ModelErrorPropagates(t *testing.T) {
	img := solidImage(t, 8, 8)
	defer img.Close()

	boom := errors.New("cuda out of memory")
	m := &MockModel{
		instances: []Instance{{Mask: &Mask{Boundary: square(0, 0, 1)}}},
		err:       boom,
	}

	polygons, err := Segment(context.Background(), img, m)
	assert.Nil(t, polygons)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "model mock inference failed")
}

func TestSegment_RejectsEmptyImage(t *testing.T) {
	img := gocv.NewMat()
	defer img.Close()

	m := &MockModel{}
	_, err := Segment(context.Background(), img, m)
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.Zero(t, m.Calls())
}

func TestSegment_RejectsGrayImage(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC1)
	defer img.Close()

	m := &MockModel{}
	_, err := Segment(context.Background(), img, m)
	assert.Error(t, err)
	assert.Zero(t, m.Calls())
}

// encodePNG 生成测试用的 PNG 字节
func encodePNG(t *testing.T, rows, cols int, c color.RGBA) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), rows, cols, gocv.MatTypeCV8UC3)
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...)
}

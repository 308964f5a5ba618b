package model

import (
	"encoding/json"

	"github.com/TIANLI0/MaskKit/geometry"
)

// SegmentResult 单张图片的实例分割结果
type SegmentResult struct {
	MD5       string             `json:"md5"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Model     string             `json:"model"`
	Instances []geometry.Polygon `json:"instances"`
	Timestamp int64              `json:"timestamp"`
}

// AreaRequest 面积计算请求，多边形在解析前保持原始 JSON 以便定位格式错误
type AreaRequest struct {
	Instances []json.RawMessage `json:"instances"`
}

// AreaResponse 面积计算响应
type AreaResponse struct {
	TotalArea float64 `json:"total_area"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

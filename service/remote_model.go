package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/TIANLI0/MaskKit/geometry"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// RemoteModel 把推理委托给外部 HTTP 模型服务
//
// 请求体为 RGB 像素的原始字节，宽高和通道数放在 query 中；
// 响应为 {"instances":[{"mask":[{"x":..,"y":..}] 或 null, "confidence":..}]}。
type RemoteModel struct {
	client    *resty.Client
	url       string
	healthURL string
}

type remoteInstance struct {
	Mask       json.RawMessage `json:"mask"`
	Confidence float32         `json:"confidence"`
	ClassID    int             `json:"class_id"`
}

// remoteResponse Instances 为 nil 表示响应里没有 instances 字段
type remoteResponse struct {
	Instances *[]remoteInstance `json:"instances"`
}

func NewRemoteModel(endpoint string, timeout time.Duration) (*RemoteModel, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid remote model url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote model url %q: scheme and host required", endpoint)
	}
	health := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}

	client := resty.New().
		SetTimeout(timeout). // 总超时
		SetHeader("Accept", "application/json")

	return &RemoteModel{
		client:    client,
		url:       endpoint,
		healthURL: health.String(),
	}, nil
}

func (m *RemoteModel) Name() string {
	return "remote:" + m.url
}

func (m *RemoteModel) Close() error {
	return nil
}

// CheckHealth 探测远端服务是否可用
func (m *RemoteModel) CheckHealth(ctx context.Context) error {
	resp, err := m.client.R().SetContext(ctx).Get(m.healthURL)
	if err != nil {
		return fmt.Errorf("remote model health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("remote model health check returned %s", resp.Status())
	}
	return nil
}

func (m *RemoteModel) Predict(ctx context.Context, img gocv.Mat) ([]Instance, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetQueryParams(map[string]string{
			"width":    strconv.Itoa(img.Cols()),
			"height":   strconv.Itoa(img.Rows()),
			"channels": strconv.Itoa(img.Channels()),
		}).
		SetBody(img.ToBytes()).
		Post(m.url)
	if err != nil {
		return nil, fmt.Errorf("remote inference request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote model returned %s: %s", resp.Status(), resp.String())
	}

	// 不依赖响应的 Content-Type，直接按 JSON 解析
	var body remoteResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("remote model returned invalid JSON: %w", err)
	}
	if body.Instances == nil {
		return nil, fmt.Errorf("remote model response has no instances field")
	}

	instances := make([]Instance, 0, len(*body.Instances))
	for i, ri := range *body.Instances {
		inst := Instance{ClassID: ri.ClassID, Confidence: ri.Confidence}
		if len(ri.Mask) > 0 && string(ri.Mask) != "null" {
			polygons, err := geometry.ParsePolygons([]json.RawMessage{ri.Mask})
			if err != nil {
				return nil, fmt.Errorf("remote model instance %d has malformed mask: %w", i, err)
			}
			inst.Mask = &Mask{Boundary: polygons[0]}
		}
		instances = append(instances, inst)
	}

	utils.Logger.Debug("remote inference completed",
		zap.String("url", m.url),
		zap.Int("instances", len(instances)))

	return instances, nil
}

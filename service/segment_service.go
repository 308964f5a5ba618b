package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/monitor"
	"github.com/TIANLI0/MaskKit/utils"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("processing queue is full, please retry later")

// ResultCache 分割结果缓存，由 RedisService 实现
type ResultCache interface {
	GetSegmentResult(ctx context.Context, md5, modelName string) (*model.SegmentResult, error)
	SetSegmentResult(ctx context.Context, result *model.SegmentResult) error
}

// SegmentService 负责上传图片的解码、排队和推理
type SegmentService struct {
	model        Model
	cache        ResultCache
	metrics      *monitor.Metrics
	semaphore    chan struct{}
	queueTimeout time.Duration
}

type Option func(*SegmentService)

// WithCache 启用结果缓存
func WithCache(cache ResultCache) Option {
	return func(s *SegmentService) { s.cache = cache }
}

func WithMetrics(m *monitor.Metrics) Option {
	return func(s *SegmentService) { s.metrics = m }
}

func NewSegmentService(cfg *config.SegmentConfig, m Model, opts ...Option) *SegmentService {
	s := &SegmentService{
		model:        m,
		semaphore:    make(chan struct{}, cfg.MaxConcurrent),
		queueTimeout: time.Duration(cfg.QueueTimeout) * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SegmentService) ModelName() string {
	return s.model.Name()
}

// Process 对上传的图片字节做实例分割
func (s *SegmentService) Process(ctx context.Context, data []byte) (*model.SegmentResult, error) {
	md5 := utils.BytesMD5(data)
	modelName := s.model.Name()

	if cached := s.lookup(ctx, md5, modelName); cached != nil {
		return cached, nil
	}

	// 并发控制
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.semaphore }()

	startTime := time.Now()

	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	width, height := img.Cols(), img.Rows()
	utils.Logger.Info("processing image",
		zap.String("md5", md5),
		zap.Int("width", width),
		zap.Int("height", height))

	polygons, err := Segment(ctx, img, s.model)
	if err != nil {
		return nil, err
	}

	duration := time.Since(startTime)
	s.metrics.ObserveInference(duration, len(polygons))

	result := &model.SegmentResult{
		MD5:       md5,
		Width:     width,
		Height:    height,
		Model:     modelName,
		Instances: polygons,
		Timestamp: time.Now().Unix(),
	}

	utils.Logger.Info("image segmented",
		zap.String("md5", md5),
		zap.Int("instances", len(polygons)),
		zap.Duration("duration", duration))

	if s.cache != nil {
		if err := s.cache.SetSegmentResult(ctx, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.String("md5", md5), zap.Error(err))
		}
	}

	return result, nil
}

func (s *SegmentService) acquire(ctx context.Context) error {
	select {
	case s.semaphore <- struct{}{}:
		return nil
	default:
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w (waited %s)", ErrQueueFull, s.queueTimeout)
	}
}

// lookup 缓存错误只记录日志
func (s *SegmentService) lookup(ctx context.Context, md5, modelName string) *model.SegmentResult {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.GetSegmentResult(ctx, md5, modelName)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.String("md5", md5), zap.Error(err))
		return nil
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("md5", md5))
	}
	return cached
}

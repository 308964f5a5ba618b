package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisService 分割结果缓存，同一图片和同一模型的结果相同
type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func segmentKey(md5, modelName string) string {
	return "segment:" + md5 + ":" + modelName
}

// GetSegmentResult 未命中时返回 nil, nil
func (s *RedisService) GetSegmentResult(ctx context.Context, md5, modelName string) (*model.SegmentResult, error) {
	data, err := s.client.Get(ctx, segmentKey(md5, modelName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var result model.SegmentResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal segment result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

func (s *RedisService) SetSegmentResult(ctx context.Context, result *model.SegmentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, segmentKey(result.MD5, result.Model), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

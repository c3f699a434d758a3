// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"rag-connect-go/internal/config"
	"rag-connect-go/pkg/database"
	"rag-connect-go/pkg/log"
	"rag-connect-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a sync task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.SyncTask) error
}

// messageReader 抽象 kafka.Reader 的读取与提交，便于测试消费循环。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// fetchRetryBackoff 为读取消息失败后的重试间隔。
var fetchRetryBackoff = 5 * time.Second

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceSyncTask 发送一个连接器同步任务到 Kafka。
func ProduceSyncTask(task tasks.SyncTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Value: taskBytes,
		},
	)
}

// StartConsumer 启动一个 Kafka 消费者来处理同步任务。
// 同一任务失败达到 3 次后提交 offset 终止重试，失败计数存放在 Redis。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "rag-connect-go-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consumeLoop(r, processor)

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}

// consumeLoop 持续消费同步任务，读取失败时退避重试而不是退出。
// Reader 被关闭（io.EOF）时正常结束。
func consumeLoop(r messageReader, processor TaskProcessor) {
	for {
		m, err := r.FetchMessage(context.Background())
		if errors.Is(err, io.EOF) {
			log.Info("Kafka 消费者已关闭")
			return
		}
		if err != nil {
			log.Errorf("从 Kafka 读取消息失败，%s 后重试: %v", fetchRetryBackoff, err)
			time.Sleep(fetchRetryBackoff)
			continue
		}

		var task tasks.SyncTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理同步任务: connectorID=%d, trigger=%s", task.ConnectorID, task.Trigger)
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("处理同步任务失败: connectorID=%d, Error: %v", task.ConnectorID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:sync_attempts:%d", task.ConnectorID)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			if attempts >= 3 {
				log.Errorf("同步任务多次失败(>=3)，提交 offset 终止重试: connectorID=%d", task.ConnectorID)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
		} else {
			log.Infof("同步任务处理成功: connectorID=%d", task.ConnectorID)
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:sync_attempts:%d", task.ConnectorID)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

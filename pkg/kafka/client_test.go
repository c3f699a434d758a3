package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-connect-go/pkg/tasks"
)

// scriptedReader 依次返回预设的读取结果，取尽后返回 io.EOF。
type scriptedReader struct {
	fetches   []fetchResult
	idx       int
	committed []kafka.Message
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.idx >= len(r.fetches) {
		return kafka.Message{}, io.EOF
	}
	res := r.fetches[r.idx]
	r.idx++
	return res.msg, res.err
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

type countingProcessor struct {
	calls int
}

func (p *countingProcessor) Process(ctx context.Context, task tasks.SyncTask) error {
	p.calls++
	return nil
}

func TestConsumeLoopSurvivesFetchErrors(t *testing.T) {
	old := fetchRetryBackoff
	fetchRetryBackoff = time.Millisecond
	defer func() { fetchRetryBackoff = old }()

	r := &scriptedReader{fetches: []fetchResult{
		{err: errors.New("broker unreachable")},
		{err: errors.New("broker unreachable")},
		{msg: kafka.Message{Value: []byte("not json")}},
	}}
	p := &countingProcessor{}
	consumeLoop(r, p)

	// 读取失败只退避重试，循环继续消费后续消息，Reader 关闭后正常退出
	assert.Equal(t, len(r.fetches), r.idx)
	// 坏消息直接提交 offset，不会进入任务处理
	require.Len(t, r.committed, 1)
	assert.Zero(t, p.calls)
}

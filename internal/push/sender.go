// Package push 把新消息事件转换为移动端推送。
package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// MaxBatch 是 FCM 单次多播允许的最大 token 数。
const MaxBatch = 500

// Notification 是一条推送的展示内容与附加数据。
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// BatchResult 汇总一次多播的结果；Invalid 中的 token 应当删除。
type BatchResult struct {
	Success int
	Failure int
	Invalid []string
}

// Sender 向一批 token 发送同一条推送，len(tokens) 不超过 MaxBatch。
type Sender interface {
	Send(ctx context.Context, tokens []string, n Notification) (BatchResult, error)
}

// FCMSender 基于 Firebase Cloud Messaging。
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender 使用凭证文件初始化；文件为空时回退到默认应用凭证。
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	log.Info().Msg("fcm client initialized")
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, tokens []string, n Notification) (BatchResult, error) {
	var res BatchResult
	if len(tokens) == 0 {
		return res, nil
	}
	msg := &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	}
	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return res, fmt.Errorf("fcm multicast: %w", err)
	}
	res.Success, res.Failure = resp.SuccessCount, resp.FailureCount
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			res.Invalid = append(res.Invalid, tokens[i])
			continue
		}
		log.Debug().Err(r.Error).Msg("fcm token delivery failed")
	}
	return res, nil
}

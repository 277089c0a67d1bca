package natsx

import (
	"context"

	"ResearchChat/tools"
)

// PublishOnce：带 Nats-Msg-Id 的发布，JetStream 按该 id 去重
// - msgID 为空则自动生成
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = tools.RandMsgID()
	}
	h["Nats-Msg-Id"] = msgID
	return p.Publish(ctx, biz, data, h)
}

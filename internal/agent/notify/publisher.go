package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"netsparrow/pkg/model"
)

// Publisher 把检测事件以 JSON 发布到 NATS subject。
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("netsparrow-agent"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS 连接断开：%v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("NATS 已重连：%s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS %s 失败：%w", url, err)
	}
	log.Printf("已连接 NATS：%s subject=%s", url, subject)
	return &Publisher{nc: nc, subject: subject}, nil
}

func (p *Publisher) Publish(d *model.Detection) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("序列化 JSON 失败：%w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("发布到 %s 失败：%w", p.subject, err)
	}
	return nil
}

// Close 先 drain 再关闭连接，已缓冲的消息会发出去。
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"netsparrow/pkg/model"
)

// Client 把检测记录上报到本地 server 留档。
type Client struct {
	url    string
	client *http.Client
}

// NewClient 的 baseURL 形如 http://127.0.0.1:8080。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		url: strings.TrimRight(baseURL, "/") + "/api/v1/upload",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Upload(ctx context.Context, d *model.Detection) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("序列化 JSON 失败：%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST 上报失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST 上报失败：status=%s", resp.Status)
	}
	return nil
}

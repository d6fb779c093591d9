package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"netsparrow/internal/analyzer/batch"
	"netsparrow/internal/wire"
)

// TFServing 通过 TensorFlow Serving 的 REST predict 接口调用外部模型。
type TFServing struct {
	url    string
	client *http.Client
}

func NewTFServing(baseURL, model string, timeout time.Duration) *TFServing {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TFServing{
		url:    fmt.Sprintf("%s/v1/models/%s:predict", strings.TrimRight(baseURL, "/"), model),
		client: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error"`
}

// Features 是送给模型的每条记录的数值特征。
func Features(r wire.PacketRecord) []float64 {
	return []float64{
		float64(r.Timestamp),
		float64(r.Protocol),
		float64(r.DeclaredSize),
		float64(r.DeclaredSize) / wire.PayloadSize,
		float64(wire.PayloadSize),
	}
}

func (s *TFServing) Classify(ctx context.Context, b batch.Batch) ([]float32, error) {
	req := predictRequest{Instances: make([][]float64, 0, b.Len())}
	for _, r := range b.Records {
		req.Instances = append(req.Instances, Features(r))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化 JSON 失败：%w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("predict 请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("predict 失败：status=%s body=%s", resp.Status, string(msg))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析 predict 响应失败：%w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("predict 返回错误：%s", out.Error)
	}

	scores := make([]float32, 0, len(out.Predictions))
	for i, p := range out.Predictions {
		v, err := firstNumber(p)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个预测值非法：%w", i, err)
		}
		scores = append(scores, float32(v))
	}
	return scores, nil
}

// 单输出模型的预测值可能是 0.93，也可能是 [0.93]。
func firstNumber(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err != nil {
		return 0, err
	}
	if len(arr) == 0 {
		return 0, fmt.Errorf("空数组")
	}
	return arr[0], nil
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"netsparrow/pkg/model"
)

var (
	ErrSyncFailed = errors.New("中心服务同步失败")
	// ErrDuplicate 表示该地址中心服务已经记录过
	ErrDuplicate = errors.New("中心服务已存在该记录")
)

const (
	blacklistPath = "settings/myblacklist/"
	settingsPath  = "api/settings/pi/get"
	capturePath   = "packet_capture/"
)

// Client 访问中心黑名单服务。并发安全。
type Client struct {
	base   string
	auth   string
	client *http.Client
}

// NewClient 的 scheme 一般是 "Token"，也可以是 "Bearer"；token 为空时不带 Authorization 头。
func NewClient(baseURL, scheme, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/") + "/",
		client: &http.Client{Timeout: timeout},
	}
	if token != "" {
		if scheme == "" {
			scheme = "Token"
		}
		c.auth = scheme + " " + token
	}
	return c
}

// RemoteSettings 是 pi 设置接口返回的字段。
type RemoteSettings struct {
	MLPercentage int
	Caution      float64
}

type blacklistResponse struct {
	MyBlacklists []blacklistItem `json:"myblacklists"`
}

// 字段名随中心服务版本不同，两种都接受
type blacklistItem struct {
	CapturedIP  string `json:"blacklist_entry__capturedpacket_entry__ip"`
	CapturedURL string `json:"blacklist_entry__capturedpacket_entry__url"`
	IP          string `json:"blacklist_entry__ip"`
	URL         string `json:"blacklist_entry__url"`
}

type settingsResponse struct {
	MLPercentage flexNumber  `json:"mlPercentage"`
	MLCaution    *flexNumber `json:"mlCaution"`
}

// flexNumber 接受 0.9 和 "0.90"（Decimal 字段序列化成字符串）两种写法。
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("非法数值 %s：%w", b, err)
	}
	*f = flexNumber(v)
	return nil
}

func (c *Client) GetMyBlacklist(ctx context.Context) ([]model.BlacklistEntry, error) {
	var out blacklistResponse
	if err := c.getJSON(ctx, blacklistPath, &out); err != nil {
		return nil, err
	}
	entries := make([]model.BlacklistEntry, 0, len(out.MyBlacklists))
	for _, it := range out.MyBlacklists {
		e := model.BlacklistEntry{IP: it.CapturedIP, URL: it.CapturedURL}
		if e.IP == "" {
			e.IP, e.URL = it.IP, it.URL
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Client) GetSettings(ctx context.Context) (RemoteSettings, error) {
	var out settingsResponse
	if err := c.getJSON(ctx, settingsPath, &out); err != nil {
		return RemoteSettings{}, err
	}
	if out.MLCaution == nil {
		return RemoteSettings{}, fmt.Errorf("响应缺少 mlCaution：%w", ErrSyncFailed)
	}
	caution := float64(*out.MLCaution)
	if caution < 0 || caution > 1 {
		return RemoteSettings{}, fmt.Errorf("mlCaution 超出 [0,1]：%v：%w", caution, ErrSyncFailed)
	}
	return RemoteSettings{MLPercentage: int(out.MLPercentage), Caution: caution}, nil
}

// Push 上报一个可疑地址。HTTP 400 且响应提到 Duplicate 时返回 ErrDuplicate。
func (c *Client) Push(ctx context.Context, ip netip.Addr) error {
	body, err := json.Marshal(map[string]string{"ip": ip.String()})
	if err != nil {
		return fmt.Errorf("序列化 JSON 失败：%w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, capturePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s 失败：%v：%w", capturePath, err, ErrSyncFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusBadRequest && bytes.Contains(bytes.ToLower(msg), []byte("duplicate")) {
		return fmt.Errorf("%s：%w", ip, ErrDuplicate)
	}
	return fmt.Errorf("POST %s 失败：status=%s body=%s：%w", capturePath, resp.Status, msg, ErrSyncFailed)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s 失败：%v：%w", path, err, ErrSyncFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s 失败：status=%s body=%s：%w", path, resp.Status, msg, ErrSyncFailed)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 %s 响应失败：%v：%w", path, err, ErrSyncFailed)
	}
	return nil
}

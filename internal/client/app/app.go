package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"netsparrow/pkg/model"
)

func Run(cfg Config) error {
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return fmt.Errorf("server 参数非法：%w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	if cfg.Recent {
		q.Set("recent", "1")
	} else {
		q.Set("ip", cfg.IP)
	}
	if cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(cfg.Limit))
	}
	u.RawQuery = q.Encode()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("查询失败：status=%s body=%s", resp.Status, string(b))
	}

	var rows []model.Detection
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("解析响应 JSON 失败：%w", err)
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	renderTable(out, rows)
	return nil
}

func renderTable(w io.Writer, rows []model.Detection) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Time", "Subject", "Source", "Destination", "Confidence", "Threshold", "Exempt", "Pushed"})
	t.SetAutoWrapText(false)
	t.SetRowLine(false)

	for _, r := range rows {
		t.Append([]string{
			r.Timestamp.Local().Format(time.RFC3339),
			r.SubjectIP,
			r.SrcIP,
			r.DstIP,
			fmt.Sprintf("%.4f", r.Confidence),
			fmt.Sprintf("%.2f", r.Threshold),
			yesNo(r.Exempt),
			yesNo(r.Pushed),
		})
	}
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

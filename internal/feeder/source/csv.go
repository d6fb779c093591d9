package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"netsparrow/internal/wire"
)

// CSV 列位置：源地址、目的地址、协议号、包长
const (
	colSrc   = 2
	colDst   = 4
	colProto = 6
	colSize  = 8
)

// CSVRecords 把流量数据集的 CSV 行转换成输入记录，payload 全零，时间戳取当前时间。
// 无法解析的字段用占位值：地址 0.0.0.0，协议 0，包长 64。
type CSVRecords struct {
	f   *os.File
	r   *csv.Reader
	now func() time.Time
}

func OpenCSV(path string) (*CSVRecords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败：%w", err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	return &CSVRecords{f: f, r: r, now: time.Now}, nil
}

// Next 返回下一条记录；列数不足的行跳过，文件读完返回 io.EOF。
func (c *CSVRecords) Next(ctx context.Context) (wire.PacketRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return wire.PacketRecord{}, err
		}
		row, err := c.r.Read()
		if err == io.EOF {
			return wire.PacketRecord{}, io.EOF
		}
		if err != nil {
			return wire.PacketRecord{}, fmt.Errorf("读取 CSV 失败：%w", err)
		}
		if len(row) <= colSize {
			continue
		}
		return c.record(row), nil
	}
}

func (c *CSVRecords) record(row []string) wire.PacketRecord {
	rec := wire.PacketRecord{
		Timestamp:    uint32(c.now().Unix()),
		Src:          parseV4(row[colSrc]),
		Dst:          parseV4(row[colDst]),
		DeclaredSize: 64,
	}
	if v, err := strconv.ParseFloat(dash(row[colSize]), 64); err == nil && v >= 0 {
		if v > wire.PayloadSize {
			v = wire.PayloadSize
		}
		rec.DeclaredSize = uint16(v)
	}
	if v, err := strconv.ParseUint(dash(row[colProto]), 10, 8); err == nil {
		rec.Protocol = uint8(v)
	}
	return rec
}

func (c *CSVRecords) Close() error { return c.f.Close() }

// 数据集用 "-" 表示缺失值
func dash(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "-", "0")
}

func parseV4(s string) [4]byte {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !a.Is4() {
		return [4]byte{}
	}
	return a.As4()
}

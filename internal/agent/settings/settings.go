package settings

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"netsparrow/internal/agent/snapshot"
)

// Settings 是从中心服务拉取的运行参数。一旦发布就不再修改，更新时整体替换。
type Settings struct {
	Threshold    float64
	MLPercentage int
	UpdatedAt    time.Time
}

// Store 持有当前 Settings 快照。读者无锁，拉取方用 Swap 整体替换。
type Store struct {
	p atomic.Pointer[Settings]
}

func NewStore(initial Settings) *Store {
	s := &Store{}
	s.p.Store(&initial)
	return s
}

func (s *Store) Load() Settings { return *s.p.Load() }

func (s *Store) Threshold() float64 { return s.p.Load().Threshold }

// Swap 发布新快照，返回旧值。
func (s *Store) Swap(next Settings) Settings {
	return *s.p.Swap(&next)
}

// Marshal 生成 key=value 格式的快照文件内容。
func Marshal(st Settings) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "threshold=%s\n", strconv.FormatFloat(st.Threshold, 'f', -1, 64))
	fmt.Fprintf(&b, "ml_percentage=%d\n", st.MLPercentage)
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "updated_at=%s\n", st.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return b.Bytes()
}

// Unmarshal 解析快照文件；未知的 key 忽略，缺失的 key 保持零值。
func Unmarshal(data []byte) (Settings, error) {
	var st Settings
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok {
			return st, fmt.Errorf("第 %d 行缺少 '='：%q", line, text)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		var err error
		switch k {
		case "threshold":
			st.Threshold, err = strconv.ParseFloat(v, 64)
		case "ml_percentage":
			st.MLPercentage, err = strconv.Atoi(v)
		case "updated_at":
			st.UpdatedAt, err = time.Parse(time.RFC3339, v)
		}
		if err != nil {
			return st, fmt.Errorf("第 %d 行 %s 非法：%w", line, k, err)
		}
	}
	return st, sc.Err()
}

func WriteFile(path string, st Settings) error {
	return snapshot.WriteAtomic(path, Marshal(st))
}

func ReadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("读取设置快照失败：%w", err)
	}
	return Unmarshal(data)
}

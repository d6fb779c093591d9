package api

import (
	"errors"
	"io/fs"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/gin-gonic/gin"

	"netsparrow/internal/agent/blacklist"
	"netsparrow/internal/agent/settings"
	"netsparrow/internal/server/storage"
	"netsparrow/pkg/model"
)

type Handlers struct {
	store storage.Store
	// agent 写下的快照文件，只读
	blacklistFile string
	settingsFile  string

	// OnInsert 在记录入库后调用，可为空
	OnInsert func(*model.Detection)
}

func NewHandlers(store storage.Store, blacklistFile, settingsFile string) *Handlers {
	return &Handlers{store: store, blacklistFile: blacklistFile, settingsFile: settingsFile}
}

func (h *Handlers) Upload(c *gin.Context) {
	var d model.Detection
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON 解析失败：" + err.Error()})
		return
	}

	// 这里做最基本的数据校验，避免脏数据写入数据库。
	for _, ip := range []string{d.SrcIP, d.DstIP, d.SubjectIP} {
		if _, err := netip.ParseAddr(ip); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "src_ip/dst_ip/subject_ip 非法"})
			return
		}
	}
	if !unit(d.Confidence) || !unit(d.Threshold) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidence/threshold 必须在 [0,1]"})
		return
	}
	if d.Timestamp.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp 不能为空"})
		return
	}

	if err := h.store.Insert(c.Request.Context(), &d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "写入数据库失败：" + err.Error()})
		return
	}
	if h.OnInsert != nil {
		h.OnInsert(&d)
	}

	c.Status(http.StatusNoContent)
}

// Query 支持 ?ip=a.b.c.d 按地址查询，或 ?recent=1 查询最新记录；limit 默认 200，上限 2000。
func (h *Handlers) Query(c *gin.Context) {
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 2000 {
			limit = v
		}
	}

	var (
		rows []model.Detection
		err  error
	)
	switch ip := c.Query("ip"); {
	case ip != "":
		if _, perr := netip.ParseAddr(ip); perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ip 参数非法"})
			return
		}
		rows, err = h.store.QueryByIP(c.Request.Context(), ip, limit)
	case c.Query("recent") != "":
		rows, err = h.store.Recent(c.Request.Context(), limit)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 ip 或 recent 参数"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败：" + err.Error()})
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (h *Handlers) Blacklist(c *gin.Context) {
	addrs, err := blacklist.ReadFile(h.blacklistFile)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusOK, []string{})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	c.JSON(http.StatusOK, out)
}

// Settings 返回最近一次拉取到的设置；字段名沿用 pi 设置接口。
func (h *Handlers) Settings(c *gin.Context) {
	st, err := settings.ReadFile(h.settingsFile)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": "尚未同步过设置"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mlPercentage": st.MLPercentage,
		"caution":      st.Threshold,
		"updated_at":   st.UpdatedAt,
	})
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

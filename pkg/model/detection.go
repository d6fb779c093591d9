package model

import "time"

// Detection 是一条超过阈值的分类结果，由 agent 上报给本地 server 留档。
type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	SrcIP      string    `json:"src_ip"`
	DstIP      string    `json:"dst_ip"`
	SubjectIP  string    `json:"subject_ip"`
	Confidence float64   `json:"confidence"`
	Threshold  float64   `json:"threshold"`
	Exempt     bool      `json:"exempt"`
	Pushed     bool      `json:"pushed"`
}

// BlacklistEntry 对应中心服务 myblacklist 中的一项。
type BlacklistEntry struct {
	IP  string `json:"ip"`
	URL string `json:"url,omitempty"`
}

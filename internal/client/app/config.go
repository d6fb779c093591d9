package app

import "io"

type Config struct {
	Server string
	IP     string
	// Recent 为 true 时忽略 IP，查询最新的记录
	Recent bool
	Limit  int
	Out    io.Writer
}

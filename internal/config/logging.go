package config

import (
	"fmt"
	"io"
	"log"
	"os"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLog 设置进程日志前缀；path 非空时把日志追加到该文件。
// 返回的 Closer 在进程退出前关闭。
func SetupLog(prefix, path string) (io.Closer, error) {
	log.SetPrefix("[" + prefix + "] ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败：%w", err)
	}
	log.SetOutput(f)
	return f, nil
}

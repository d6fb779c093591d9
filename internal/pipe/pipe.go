package pipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

const (
	// PollInterval 是等待 pipe 出现时的轮询间隔。
	PollInterval = 100 * time.Millisecond
	// WriteRetryDelay 是写入遇到 EAGAIN/EINTR 时的重试间隔。
	WriteRetryDelay = 10 * time.Millisecond
	writeAttempts   = 5
)

var (
	ErrPipeUnavailable = errors.New("pipe 不可用")
	ErrNoData          = errors.New("pipe 暂无数据")
	ErrPeerClosed      = errors.New("pipe 对端已关闭")
	ErrWriteBlocked    = errors.New("pipe 写入持续阻塞")
)

type FrameReader interface {
	ReadFrame(size int) ([]byte, error)
	Close() error
}

type FrameWriter interface {
	WriteFrame(b []byte) error
	Close() error
}

// Create 在 path 不存在时创建 FIFO。path 已存在但不是 FIFO 时返回错误。
func Create(path string) error {
	fi, err := os.Stat(path)
	if err == nil {
		if fi.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%s 已存在且不是 FIFO", path)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("检查 %s 失败：%w", path, err)
	}
	if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("创建 FIFO %s 失败：%w", path, err)
	}
	return nil
}

type Conn struct {
	path    string
	dir     Direction
	fd      int
	pending []byte
}

// Open 等待 path 出现（最多 timeout），然后以非阻塞方式打开。
// 写端在读端尚未打开时会得到 ENXIO，同样在 timeout 内重试。
func Open(ctx context.Context, path string, dir Direction, timeout time.Duration) (*Conn, error) {
	flags := unix.O_RDONLY
	if dir == Write {
		flags = unix.O_WRONLY
	}
	flags |= unix.O_NONBLOCK | unix.O_CLOEXEC

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if _, err := os.Stat(path); err != nil {
			lastErr = err
		} else {
			fd, err := unix.Open(path, flags, 0)
			if err == nil {
				return &Conn{path: path, dir: dir, fd: fd}, nil
			}
			lastErr = err
			if !errors.Is(err, unix.ENXIO) && !errors.Is(err, unix.EINTR) {
				return nil, fmt.Errorf("打开 %s（%s）失败：%v：%w", path, dir, err, ErrPipeUnavailable)
			}
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("等待 %s（%s）超过 %s：%v：%w", path, dir, timeout, lastErr, ErrPipeUnavailable)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func (c *Conn) Path() string { return c.path }

// ReadFrame 读取恰好 size 字节。没有数据（EAGAIN/EINTR）或只读到半个 frame 时返回 ErrNoData，
// 已读到的字节会保留到下一次调用补齐；读到 0 字节返回 ErrPeerClosed 并丢弃未补齐的字节。
func (c *Conn) ReadFrame(size int) ([]byte, error) {
	if len(c.pending) > size {
		c.pending = c.pending[:0]
	}
	if cap(c.pending) < size {
		buf := make([]byte, len(c.pending), size)
		copy(buf, c.pending)
		c.pending = buf
	}
	for len(c.pending) < size {
		have := len(c.pending)
		n, err := unix.Read(c.fd, c.pending[have:size])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return nil, ErrNoData
			}
			return nil, fmt.Errorf("读取 %s 失败：%w", c.path, err)
		}
		if n == 0 {
			// 写端已关闭，半个 frame 不会再补齐，新写端的数据要从头对齐
			c.pending = c.pending[:0]
			return nil, ErrPeerClosed
		}
		c.pending = c.pending[:have+n]
	}
	frame := make([]byte, size)
	copy(frame, c.pending)
	c.pending = c.pending[:0]
	return frame, nil
}

// WriteFrame 写出整个 frame。EAGAIN/EINTR 短暂等待后重试，重试耗尽返回 ErrWriteBlocked；
// 读端关闭（EPIPE）返回 ErrPeerClosed，调用方应重连。
func (c *Conn) WriteFrame(b []byte) error {
	attempts := 0
	for len(b) > 0 {
		n, err := unix.Write(c.fd, b)
		if n > 0 {
			b = b[n:]
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
			attempts++
			if attempts >= writeAttempts {
				return fmt.Errorf("写入 %s 重试 %d 次：%w", c.path, attempts, ErrWriteBlocked)
			}
			time.Sleep(WriteRetryDelay)
		case errors.Is(err, unix.EPIPE):
			return fmt.Errorf("写入 %s 失败：%w", c.path, ErrPeerClosed)
		default:
			return fmt.Errorf("写入 %s 失败：%w", c.path, err)
		}
	}
	return nil
}

func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapng 文件以 Section Header Block 开头
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapFile 顺序读取 pcap 或 pcapng 文件。
type PcapFile struct {
	f        *os.File
	r        packetReader
	linkType layers.LinkType
}

func OpenPcapFile(path string) (*PcapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 pcap 文件失败：%w", err)
	}
	br := bufio.NewReader(f)
	head, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("读取 pcap 文件头失败：%w", err)
	}

	p := &PcapFile{f: f}
	if bytes.Equal(head, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("解析 pcapng 失败：%w", err)
		}
		p.r, p.linkType = ng, ng.LinkType()
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("解析 pcap 失败：%w", err)
		}
		p.r, p.linkType = r, r.LinkType()
	}
	return p, nil
}

func (p *PcapFile) LinkType() layers.LinkType { return p.linkType }

func (p *PcapFile) ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	data, ci, err := p.r.ReadPacketData()
	if err == io.EOF {
		return nil, ci, io.EOF
	}
	if err != nil {
		return nil, ci, fmt.Errorf("读取 pcap 记录失败：%w", err)
	}
	return data, ci, nil
}

func (p *PcapFile) Close() error {
	return p.f.Close()
}

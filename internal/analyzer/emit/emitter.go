package emit

import (
	"errors"
	"log"

	"netsparrow/internal/analyzer/batch"
	"netsparrow/internal/pipe"
	"netsparrow/internal/wire"
)

type Stats struct {
	Written int
	Failed  int
	// Filtered 是 address-only 布局下低于 FlagThreshold、不写出的记录数。
	Filtered int
	// PeerClosed 表示输出 pipe 的读端已经不在，本批写完后应重连。
	PeerClosed bool
}

// Emitter 把分类结果逐条编码写入输出 pipe。单条失败只记日志，不影响同批后续记录。
type Emitter struct {
	w      pipe.FrameWriter
	layout wire.Layout
	// address-only 布局没有分数字段，只写出分数不低于该值的记录
	flagThreshold float32
}

func New(w pipe.FrameWriter, layout wire.Layout, flagThreshold float32) *Emitter {
	return &Emitter{w: w, layout: layout, flagThreshold: flagThreshold}
}

// Result 把批内一条记录和它的分数组合成输出记录。
func Result(rec wire.PacketRecord, score float32) wire.Result {
	return wire.Result{Src: rec.Src, Dst: rec.Dst, Confidence: wire.ClampConfidence(score)}
}

func (e *Emitter) Emit(b batch.Batch, scores []float32) Stats {
	var st Stats
	if len(scores) != b.Len() {
		st.Failed = b.Len()
		log.Printf("batch=%s 分数 %d 个，记录 %d 条，整批丢弃", b.ID, len(scores), b.Len())
		return st
	}
	for i, rec := range b.Records {
		res := Result(rec, scores[i])
		if e.layout == wire.LayoutAddressOnly && res.Confidence < e.flagThreshold {
			st.Filtered++
			continue
		}
		if err := e.w.WriteFrame(wire.EncodeResult(e.layout, res)); err != nil {
			st.Failed++
			if errors.Is(err, pipe.ErrPeerClosed) {
				st.PeerClosed = true
			}
			log.Printf("batch=%s 第 %d 条写出失败：%v", b.ID, i, err)
			continue
		}
		st.Written++
	}
	return st
}

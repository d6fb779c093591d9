package classify

import (
	"context"
	"errors"
	"fmt"

	"netsparrow/internal/analyzer/batch"
)

var ErrClassifierFailure = errors.New("分类失败")

// Classifier 对一批记录打分，返回的分数与批内记录一一对应、顺序一致。
// 推理本身在外部组件中完成，这里只定义边界。
type Classifier interface {
	Classify(ctx context.Context, b batch.Batch) ([]float32, error)
}

type Func func(ctx context.Context, b batch.Batch) ([]float32, error)

func (f Func) Classify(ctx context.Context, b batch.Batch) ([]float32, error) {
	return f(ctx, b)
}

// Constant 给每条记录同一个分数，用于联调。
type Constant float32

func (c Constant) Classify(_ context.Context, b batch.Batch) ([]float32, error) {
	out := make([]float32, b.Len())
	for i := range out {
		out[i] = float32(c)
	}
	return out, nil
}

type guarded struct {
	next Classifier
}

// Guard 包装任意分类器：panic、返回错误或者分数个数与批大小不一致，都统一成 ErrClassifierFailure，
// 调用方丢弃该批继续处理下一批。
func Guard(c Classifier) Classifier {
	return &guarded{next: c}
}

func (g *guarded) Classify(ctx context.Context, b batch.Batch) (scores []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			scores = nil
			err = fmt.Errorf("分类器 panic：%v：%w", r, ErrClassifierFailure)
		}
	}()

	scores, err = g.next.Classify(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("%v：%w", err, ErrClassifierFailure)
	}
	if len(scores) != b.Len() {
		return nil, fmt.Errorf("返回 %d 个分数，批大小 %d：%w", len(scores), b.Len(), ErrClassifierFailure)
	}
	return scores, nil
}

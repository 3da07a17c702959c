package core

import (
	"github.com/google/cel-go/cel"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"
)

// probeWindow bounds how many leading bytes an expression can index.
const probeWindow = 256

// CelEvaluator runs a compiled heuristic expression against a payload.
type CelEvaluator struct {
	expr string
	prg  cel.Program
}

func CompileExpression(expr string) (*CelEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.ListType(cel.IntType)), // 待识别数据的前 probeWindow 个字节
		cel.Variable("size", cel.IntType),                // 数据长度
		cel.Variable("frame", cel.UintType),              // 当前帧号
		cel.Variable("depth", cel.IntType),               // 嵌套深度
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(ErrInvalidExpression, "%s: %v", expr, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CelEvaluator{expr: expr, prg: prg}, nil
}

func (e *CelEvaluator) Execute(c *Cursor, ctx *Context) (any, error) {
	n := clamp(c.Len(), 0, probeWindow)
	head, _ := c.ReadBytes(0, n)
	data := make([]int64, n)
	for i, b := range head {
		data[i] = int64(b)
	}
	input := map[string]any{
		"data":  data,
		"size":  int64(c.Len()),
		"frame": uint64(ctx.FrameNumber()),
		"depth": int64(ctx.Depth),
	}
	out, _, err := e.prg.Eval(input)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out.Value(), nil
}

// Probe adapts the expression to a heuristic: true claims with confidence 1,
// an integer is the confidence itself. Anything else, including evaluation
// errors such as an out of range index, does not claim.
func (e *CelEvaluator) Probe(c *Cursor, ctx *Context) int {
	val, err := e.Execute(c, ctx)
	if err != nil {
		ctx.Logger().Debug("heuristic expression failed", zap.String("expr", e.expr), zap.Error(err))
		return 0
	}
	switch v := val.(type) {
	case bool:
		return BoolToInt(v)
	case int64:
		return int(clamp(v, 0, 1<<31-1))
	case uint64:
		return int(clamp(v, 0, 1<<31-1))
	}
	return 0
}

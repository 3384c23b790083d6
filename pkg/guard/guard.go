package guard

import "context"

// Guard decides whether a request may proceed. The returned context is used
// by the next guard and, on Allow, by the handler.
type Guard interface {
	Check(ctx context.Context) (context.Context, Result)
}

type GuardFunc func(ctx context.Context) (context.Context, Result)

func (f GuardFunc) Check(ctx context.Context) (context.Context, Result) {
	return f(ctx)
}

// Pipeline runs guards in order and stops at the first non-Allow result.
// An empty pipeline allows.
func Pipeline(guards ...Guard) Guard {
	return GuardFunc(func(ctx context.Context) (context.Context, Result) {
		for _, g := range guards {
			next, res := g.Check(ctx)
			if !res.Allowed() {
				return ctx, res
			}
			if next != nil {
				ctx = next
			}
		}
		return ctx, Allow()
	})
}

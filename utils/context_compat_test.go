package utils

import (
	"context"
	"testing"
)

// testContext 等价于 Go 1.24+ 的 testContext(t)：测试结束时取消。
func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

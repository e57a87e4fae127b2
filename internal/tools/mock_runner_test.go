package tools

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// MockRunner 模拟外部命令
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) error {
	ret := m.Called(ctx, name, args)
	return ret.Error(0)
}

// produce 模拟工具生成输出文件
func produce(path string) func(mock.Arguments) {
	return func(mock.Arguments) {
		_ = os.WriteFile(path, []byte("output"), 0644)
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

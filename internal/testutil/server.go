package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"GoVoiceStream/internal/testserver"
)

// TestAPIKey 测试服务器默认接受的凭证
const TestAPIKey = "test-api-key"

// TestServer 测试服务器包装器
type TestServer struct {
	*testserver.Server
	t *testing.T
}

// NewTestServer 在 127.0.0.1 的随机端口上启动回环音频端点，测试结束时自动关闭
func NewTestServer(t *testing.T) *TestServer {
	return NewTestServerWithConfig(t, nil)
}

// NewTestServerWithConfig 使用自定义配置创建并启动测试服务器
func NewTestServerWithConfig(t *testing.T, customizer func(*testserver.ServerConfig)) *TestServer {
	t.Helper()

	serverConfig := testserver.DefaultServerConfig("127.0.0.1:0")
	serverConfig.APIKey = TestAPIKey
	if customizer != nil {
		customizer(serverConfig)
	}

	ts := &TestServer{Server: testserver.New(serverConfig), t: t}
	require.NoError(t, ts.Server.Start(), "Failed to start test server")
	t.Cleanup(ts.Stop)

	t.Logf("✅ Test server started on %s", ts.Addr())
	return ts
}

// Stop 停止测试服务器
func (ts *TestServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ts.Server.Shutdown(ctx)
}

// GetHTTPURL 获取HTTP URL
func (ts *TestServer) GetHTTPURL() string {
	return fmt.Sprintf("http://%s", ts.Addr())
}

// WaitForFrames 等待服务端收到至少 n 个音频帧
func (ts *TestServer) WaitForFrames(n int, timeout time.Duration) [][]byte {
	ts.t.Helper()
	require.Eventually(ts.t, func() bool {
		return len(ts.ReceivedBinary()) >= n
	}, timeout, 10*time.Millisecond, "expected %d audio frames", n)
	return ts.ReceivedBinary()
}

// WaitForConnections 等待连接数达到 n
func (ts *TestServer) WaitForConnections(n int, timeout time.Duration) {
	ts.t.Helper()
	require.Eventually(ts.t, func() bool {
		return ts.ConnectionCount() == n
	}, timeout, 10*time.Millisecond, "expected %d connections", n)
}

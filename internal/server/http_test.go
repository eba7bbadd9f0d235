package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := server.NewHTTPServer(gin.New(), config.Config{HTTPPort: "0"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/utils"
)

// AsyncMiddleware 异步处理中间件
// 将请求的处理逻辑提交到 Worker Pool 中执行，严格控制并发处理的请求数量，防止数据库过载。
// 队列满时 Submit 阻塞，请求排队而不是被拒绝。
func AsyncMiddleware(pool *utils.WorkerPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 没有 Worker Pool 时降级为同步执行
		if pool == nil {
			c.Next()
			return
		}

		done := make(chan struct{})

		// gin.Context 不是线程安全的，但主 Goroutine 阻塞在 <-done，
		// 同一时间只有 Worker 在操作 c
		task := func() {
			defer close(done)
			c.Next()
		}

		pool.Submit(task)

		// 对客户端依然是同步的请求/响应
		<-done
	}
}

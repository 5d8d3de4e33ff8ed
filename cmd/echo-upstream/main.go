// Command echo-upstream is a local upstream for trying the gateway's proxy mount.
package main

import (
	"flag"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.NoRoute(func(c *gin.Context) {
		logger.Info("received request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("forwarded_for", c.GetHeader("X-Forwarded-For")),
		)
		c.JSON(http.StatusOK, gin.H{
			"message":       "hello from echo upstream",
			"addr":          *addr,
			"path":          c.Request.URL.Path,
			"forwarded_for": c.GetHeader("X-Forwarded-For"),
		})
	})

	logger.Info("echo upstream starting", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, router); err != nil {
		logger.Fatal("echo upstream stopped", zap.Error(err))
	}
}

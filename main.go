package main

import (
	"fmt"

	"apripista/inspira-api/api"
	"apripista/inspira-api/config"
	"apripista/inspira-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	a, err := api.NewRouter()
	if err != nil {
		panic(err)
	}

	if config.SweepOnStartup() {
		n, err := a.Tokens.Sweep(a.Clock.Now())
		if err != nil {
			panic(err)
		}

		zap.L().Info("Startup token sweep finished", zap.Int64("deleted", n))
	}

	sweeper, err := service.StartTokenSweep(viper.GetString("sweep.schedule"), a.Tokens)
	if err != nil {
		panic(err)
	}
	defer sweeper.Stop()

	worker := service.NewWorker(
		viper.GetString("redis.addr"),
		service.DefaultRetryPolicy(),
		service.NewMailer(),
	)
	if err := worker.Start(); err != nil {
		panic(err)
	}
	defer worker.Shutdown()

	zap.L().Info("Server starting")

	err = a.Router.Run(fmt.Sprintf(":%d", viper.GetInt("host.port")))
	if err != nil {
		panic(err)
	}
}

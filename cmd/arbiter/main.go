package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/doublewordai/arbiter/handlers/classify"
	"github.com/doublewordai/arbiter/handlers/external/kafka"
	"github.com/doublewordai/arbiter/internal/backend"
	"github.com/doublewordai/arbiter/internal/model"
	"github.com/doublewordai/arbiter/internal/scheduler"
	"github.com/doublewordai/arbiter/internal/server"
	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/doublewordai/arbiter/pkg/metrics"
	"github.com/doublewordai/arbiter/pkg/resultcache"
	"github.com/doublewordai/arbiter/pkg/tokenizer"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"
)

var AppConfigs configs.AppConfigs

func main() {
	viper.AutomaticEnv()
	viper.SetConfigName("application") // file name without .env
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file found, relying on environment")
	}
	configs.InitConfig(&AppConfigs)
	logger.InitLogger(&AppConfigs)
	metrics.InitMetrics(&AppConfigs)

	handle, err := model.NewHandle(&AppConfigs)
	if err != nil {
		logger.Panic("Failed to load model labels!", err)
	}
	encoder := tokenizer.NewTiktoken(AppConfigs.Configs.TokenizerEncoding)
	httpBackend := backend.NewHTTPBackend(&AppConfigs)

	sched := scheduler.New(scheduler.ConfigFromApp(&AppConfigs), encoder, httpBackend, handle)
	sched.Start()

	cache := resultcache.New(AppConfigs.Configs.ResultCacheSizeInBytes, AppConfigs.Configs.ResultCacheTTLSec)
	kafka.InitKafkaLogger(&AppConfigs)
	handler := classify.NewHandler(sched, cache, AppConfigs.Configs.ModelName)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down, draining in-flight requests")
		sched.Close()
		kafka.CloseKafkaLogger()
		os.Exit(0)
	}()

	server.InitServer(&AppConfigs, handler)
}

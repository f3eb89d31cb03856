package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinzhu/configor"

	"github.com/zyla1588-ctrl/BilliardsScoreCounter/server"
)

func main()  {

	config := &server.Config{}
	if err := configor.Load(config, "config.yml"); err != nil {
		log.Fatal("Error while reading configurations from config.yml", err)
	}

	logger := server.NewLogger(config)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := server.ConnectDB(config, logger)
	redis := server.ConnectRedis(config, logger)

	stats := server.NewStatsHolder(logger)
	sessionHolder := server.NewSessionHolder(config)
	leaderboard := server.NewLeaderboard(db, config)
	gateway := server.NewMongoGateway(db, redis, leaderboard, config, logger)
	notification := server.NewNotificationService(db, config, logger)
	pubSub := server.NewPubSub(config, sessionHolder, stats, logger, ctx)
	registry := server.NewRoomRegistry(config, logger, pubSub, gateway, gateway, notification)
	pipeline := server.NewPipeline(config, registry, logger)

	s := server.StartServer(sessionHolder, registry, pipeline, gateway, leaderboard, notification, stats, config, db, logger)

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Startup was completed")

	<-c

	s.Stop()

}

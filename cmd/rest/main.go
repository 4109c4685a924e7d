package main

import (
	"context"
	"log"

	"voicechat-be/internal/bootstrap"
	"voicechat-be/internal/config"
	"voicechat-be/internal/server"
	"voicechat-be/internal/tracer"
	"voicechat-be/pkg/database"
)

func main() {
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	cfg := config.Load()

	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	container := bootstrap.NewContainer(gormDB, cfg)

	// Title worker drains the in-process queue in the background.
	go func() {
		log.Println("Background: Starting Title Worker...")
		if err := container.TitleWorker.Consume(context.Background()); err != nil {
			log.Printf("Background Title Worker Error: %v", err)
		}
	}()

	srv := server.New(cfg, container)

	log.Fatal(srv.Run())
}

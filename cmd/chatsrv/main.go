// Command chatsrv runs the TCP chat server.
//
// Usage:
//
//	chatsrv -addr :4000 [-queue 32] [-msg-limit 20] [-msg-window 10s]
//	        [-redis localhost:6379] [-redis-channel chat-events] [-debug]
//
// The server stops gracefully on SIGINT or SIGTERM. When -redis is set,
// every join, leave, chat and whisper is also published as JSON to the given
// pub/sub channel.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/go-chat/chatserver"
	"github.com/cyberinferno/go-chat/dispatcher"
	"github.com/cyberinferno/go-chat/floodguard"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/monitor"
	"github.com/cyberinferno/go-chat/registry"
)

func main() {
	var (
		addr         = flag.String("addr", ":4000", "TCP address to listen on")
		queueSize    = flag.Int("queue", 32, "outbound queue capacity per session")
		msgLimit     = flag.Int("msg-limit", 0, "max messages per user per window, 0 disables")
		msgWindow    = flag.Duration("msg-window", 10*time.Second, "rate limit window")
		redisAddr    = flag.String("redis", "", "redis address for event publishing, empty disables")
		redisChannel = flag.String("redis-channel", "chat-events", "redis pub/sub channel for events")
		debug        = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := logger.NewZerologLogger(zerolog.New(os.Stdout), "chatsrv", level)

	mon := monitor.Monitor(monitor.NewLogMonitor(log))
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer func() { _ = client.Close() }()
		mon = monitor.Multi(mon, monitor.NewRedisMonitor(client, *redisChannel, log))
		log.Info("publishing chat events to redis",
			logger.Field{Key: "addr", Value: *redisAddr},
			logger.Field{Key: "channel", Value: *redisChannel},
		)
	}

	reg := registry.New(log)

	disp := dispatcher.New(reg)
	disp.Monitor = mon
	disp.Logger = log
	if *msgLimit > 0 {
		disp.Guard = floodguard.New(*msgLimit, *msgWindow)
	}

	srv := chatserver.New(*addr, disp, log)
	srv.QueueSize = *queueSize

	if err := srv.Start(); err != nil {
		log.Error("startup failed", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("stop signal received")
	srv.Stop()
}

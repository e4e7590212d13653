package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"social-sync/internal/config"
	"social-sync/internal/utils"
	"social-sync/simulator"
)

func main() {
	// Define simulation configuration
	cfg := simulator.SimConfig{}
	flag.StringVar(&cfg.EngineURL, "url", "http://localhost:8080", "gateway base URL")
	flag.IntVar(&cfg.NumUsers, "users", 10, "number of simulated users")
	flag.IntVar(&cfg.PostsPerUser, "posts", 2, "posts created by each user")
	flag.DurationVar(&cfg.SimulationTime, "duration", time.Minute, "length of the activity phase")
	flag.Float64Var(&cfg.LikeFrequency, "likes", 1, "likes per user per second")
	flag.Float64Var(&cfg.CommentFrequency, "comments", 0.3, "comments per user per second")
	flag.Float64Var(&cfg.ZipfS, "zipf", 1.07, "Zipf skew of post popularity")
	flag.Float64Var(&cfg.RequestsPerSec, "rps", 0, "overall request cap, 0 for none")
	flag.StringVar(&cfg.EmailDomain, "domain", "gmail.com", "email domain for simulated accounts")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := utils.NewLogger(&config.LogConfig{Level: *level})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sim := simulator.NewEnhancedSimulator(cfg)
	violations, err := sim.Run(ctx)
	if err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}

	logger.Info("simulation completed", zap.String("metrics", sim.GetMetrics().Summary()))
	for _, v := range violations {
		logger.Error("invariant violated", zap.String("postId", v.PostID), zap.String("reason", v.Reason))
	}
	if len(violations) > 0 {
		os.Exit(1)
	}
}

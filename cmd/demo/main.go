// Command demo wires every component of ratelimitcore into a small runnable
// program: tiered storage (Redis L1 behind a circuit breaker, in-process L2),
// the expression resolver, the adaptive throttler, and the audit pipeline,
// all driven from config.Config.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/manojcchoudhary/ratelimitcore/audit"
	"github.com/manojcchoudhary/ratelimitcore/breaker"
	"github.com/manojcchoudhary/ratelimitcore/config"
	"github.com/manojcchoudhary/ratelimitcore/engine"
	"github.com/manojcchoudhary/ratelimitcore/mask"
	"github.com/manojcchoudhary/ratelimitcore/resolver"
	"github.com/manojcchoudhary/ratelimitcore/storage/distributed"
	"github.com/manojcchoudhary/ratelimitcore/storage/local"
	"github.com/manojcchoudhary/ratelimitcore/storage/tiered"
	"github.com/manojcchoudhary/ratelimitcore/throttle"
)

func main() {
	configPath := flag.String("config", "", "path to a ratelimitcore config file (yaml/json/toml)")
	redisAddr := flag.String("redis-addr", "127.0.0.1:6379", "Redis address for the distributed (L1) storage layer")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	watcher, err := config.NewWatcher(*configPath, log)
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}
	cfg := watcher.Current()

	if len(cfg.Limiters) == 0 {
		cfg.Limiters = []config.LimiterSpec{
			{Name: "api-default", Algorithm: "token_bucket", Limit: 10, Window: time.Second},
		}
	}
	limiterCfg, err := cfg.Limiters[0].ToAlgoConfig()
	if err != nil {
		log.Fatal("invalid limiter config", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	l1 := distributed.New(rdb, log)
	l2 := local.New(100_000)
	cb := breaker.New(breaker.Config{
		FailureThreshold:  cfg.CircuitBreaker.FailureThreshold,
		Window:            cfg.CircuitBreaker.Window,
		BaseRecoveryDelay: cfg.CircuitBreaker.HalfOpenDelay,
	})
	store := tiered.New(l1, l2, cb, limiterCfg.FailStrategy, log)

	res := resolver.New(cfg.Spel.CacheSize)
	masker, err := mask.New(nil)
	if err != nil {
		log.Fatal("constructing masker", zap.Error(err))
	}

	auditPipeline := audit.New(audit.Config{}, audit.NewZapSink(log), log)
	defer auditPipeline.Close(5 * time.Second)

	metrics := engine.NewMetrics(prometheus.DefaultRegisterer)

	opts := []engine.Option{engine.WithMetrics(metrics)}
	if cfg.ProblemDetails.Enabled {
		opts = append(opts, engine.WithProblemDetail(engine.ProblemDetailConfig{
			Enabled:           true,
			TypeURI:           cfg.ProblemDetails.TypeURI,
			IncludeExtensions: cfg.ProblemDetails.IncludeExtensions,
		}))
	}

	var mon *throttle.Monitor
	if cfg.Throttling.Enabled {
		thr, err := throttle.New(throttle.Config{
			Soft:       cfg.Throttling.SoftLimit,
			Hard:       cfg.Throttling.HardLimit,
			MaxDelayMs: cfg.Throttling.MaxDelayMs,
			Strategy:   throttle.Strategy(cfg.ThrottleStrategy()),
		}, 1)
		if err != nil {
			log.Fatal("invalid throttle config", zap.Error(err))
		}
		opts = append(opts, engine.WithThrottler(thr))

		mon = throttle.NewMonitor(throttle.NewSimulatedUsageSource(50, 20), 2*time.Second, log)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go mon.Run(ctx)
	}

	eng := engine.New(res, store, masker, auditPipeline, log, opts...)

	watcher.Watch(func(config.Config) {
		log.Info("configuration changed; restart the demo to pick up limiter/breaker changes")
	})

	reqCtx := resolver.Context{
		Principal:     resolver.MapPrincipal{"id": "demo-user"},
		RemoteAddr:    "127.0.0.1",
		Args:          []string{"GET", "/widgets"},
		Headers:       resolver.Headers{"X-Request-Id": []string{"demo"}},
		KeyExpression: "#ip",
	}

	for i := 0; i < 15; i++ {
		decision := eng.TryAcquire(context.Background(), reqCtx, limiterCfg)
		if mon != nil {
			decision = eng.Throttle(decision, mon.CurrentUsage())
		}
		fmt.Printf("call %2d: allowed=%v remaining=%d reset=%s delay_ms=%d reason=%q\n",
			i+1, decision.Allowed, decision.Remaining, decision.ResetTime.Format(time.RFC3339), decision.DelayMs, decision.Reason)
	}
}

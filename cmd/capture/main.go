package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/camera"
	"classtrack/internal/capture"
	"classtrack/internal/config"
	"classtrack/internal/matchclient"
	"classtrack/internal/queue"
	"classtrack/internal/session"
	"classtrack/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down capture daemon...")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		log.Fatalf("db open failed: %v", err)
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		q = queue.NewInMemory(64)
	case "kafka":
		q = queue.NewKafkaQueue(cfg.KafkaBrokers, "classtrack.marks", "classtrack-capture")
	default:
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:marks")
	}

	matcher := matchclient.New(cfg.MatchServiceURL, cfg.MatchSkip, cfg.MatchTimeout)
	if err := matcher.Health(ctx); err != nil {
		log.Printf("warning: match service not healthy: %v", err)
	} else {
		log.Println("Match service healthy:", cfg.MatchServiceURL)
	}

	var source camera.Source
	if cfg.CameraSnapURL != "" {
		source = camera.NewHTTPSource(cfg.CameraSnapURL)
		log.Println("Camera snapshot source:", cfg.CameraSnapURL)
	} else {
		source = &camera.StaticSource{}
		log.Println("No camera configured, using static frames")
	}

	lectures := session.NewStore(db.Client, redisClient.Client)
	repo := attendance.NewRepository(db.Client)

	sched := capture.NewScheduler(source, matcher, lectures, repo, capture.Config{
		Tick:     cfg.CaptureTick,
		Debounce: cfg.CaptureDebounce,
		Cooldown: cfg.CaptureCooldown,
	})

	// Marks written by the API (manual or reconciliation) arrive on the queue;
	// log them so the kiosk operator sees side-channel writes as they happen.
	go func() {
		msgs, err := q.Consume(ctx)
		if err != nil {
			log.Printf("queue consume failed: %v", err)
			return
		}
		for msg := range msgs {
			if msg.Type == "mark" {
				log.Printf("mark recorded elsewhere: %s", string(msg.Body))
			}
		}
	}()

	// Periodic status line, the daemon's stand-in for the kiosk display.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := sched.Snapshot()
				log.Printf("capture: state=%s status=%q recent=%d", snap.State, snap.Status, len(snap.Recent))
			}
		}
	}()

	log.Printf("Capture loop starting (tick=%s debounce=%s cooldown=%s)", cfg.CaptureTick, cfg.CaptureDebounce, cfg.CaptureCooldown)
	sched.Run(ctx)
	log.Println("Capture daemon exited")
}

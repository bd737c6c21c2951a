package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/peerbridge/peer-app/internal/auth"
	"github.com/peerbridge/peer-app/internal/events"
	"github.com/peerbridge/peer-app/internal/httpapi"
	"github.com/peerbridge/peer-app/internal/matching"
	"github.com/peerbridge/peer-app/internal/metrics"
	"github.com/peerbridge/peer-app/internal/profile"
	"github.com/peerbridge/peer-app/internal/protocol"
	"github.com/peerbridge/peer-app/internal/rendezvous"
	"github.com/peerbridge/peer-app/internal/room"
	"github.com/peerbridge/peer-app/internal/ws"
)

func main() {
	log.Println("Starting peer support coordinator...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	listenAddr := envOr("LISTEN_ADDR", ":8080")
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	redisAddr := os.Getenv("REDIS_ADDR") // empty -> in-memory queue
	natsURL := os.Getenv("NATS_URL")     // empty -> events disabled

	tokenTTL := durationOr("TOKEN_TTL", 24*time.Hour)
	sessionDuration := durationOr("SESSION_DURATION", room.DefaultSessionDuration)

	wsConfig := ws.DefaultServerConfig()
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.MaxConnections = n
		}
	}

	// --- PostgreSQL ---
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()
	if err := profile.Migrate(databaseURL); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	profiles := profile.NewStore(db)

	// --- Queue store: Redis in production, in-memory for development ---
	var (
		queueStore matching.Store
		rdb        *redis.Client
	)
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		queueStore = matching.NewRedisStore(rdb)
	} else {
		log.Println("REDIS_ADDR not set, using in-memory queue store")
		queueStore = matching.NewMemoryStore()
	}

	// --- NATS ---
	var publisher events.Publisher = events.Nop{}
	if natsURL != "" {
		p, err := events.Connect(natsURL, "peer-coordinator")
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		publisher = p
	}

	// --- Core services ---
	matcher := matching.NewService(queueStore, profiles, rendezvous.NewTable(), publisher)
	rooms := room.NewRegistry(sessionDuration, publisher)
	tokens := auth.NewTokens(jwtSecret, tokenTTL)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	if rs, ok := queueStore.(*matching.RedisStore); ok {
		go matching.StartCleanup(cleanupCtx, rs)
	}

	// --- WebSocket layer ---
	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(wsConfig, dispatcher.Dispatch)

	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		n, err := rooms.Join(m.RoomID, conn.ID, conn)
		if err != nil {
			code := "join_failed"
			switch {
			case errors.Is(err, room.ErrRoomFull):
				code = "room_full"
			case errors.Is(err, room.ErrRoomClosed):
				code = "room_closed"
			}
			dispatcher.SendError(conn, code, err.Error())
			return
		}
		resp, _ := protocol.NewServerMessage(protocol.TypeRoomJoined, protocol.RoomJoinedMsg{
			RoomID:       m.RoomID,
			Participants: n,
		})
		if err := conn.WriteMessage(resp); err != nil {
			log.Printf("join_room: send room_joined to %s: %v", conn.ID, err)
		}
		log.Printf("join_room conn=%s room=%s participants=%d", conn.ID, m.RoomID, n)
	})

	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		if err := rooms.Relay(conn.ID, m.RoomID, m.Text); err != nil {
			dispatcher.SendError(conn, "relay_failed", err.Error())
		}
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		// Typing is best-effort; a stale indicator is not worth an error frame.
		if err := rooms.Typing(conn.ID, m.RoomID, m.IsTyping); err != nil {
			log.Printf("typing conn=%s room=%s: %v", conn.ID, m.RoomID, err)
		}
	})

	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *ws.Connection, msg interface{}) {
		if _, ok := msg.(protocol.LeaveRoomMsg); !ok {
			return
		}
		rooms.Leave(conn.ID)
		log.Printf("leave_room conn=%s", conn.ID)
	})

	server.SetOnDisconnect(func(connID string) {
		rooms.Leave(connID)
	})

	ws.StartHeartbeat(server, ws.DefaultHeartbeatConfig())

	// --- HTTP ---
	mux := http.NewServeMux()
	httpapi.NewServer(profiles, matcher, tokens).Routes(mux)
	mux.HandleFunc("/ws", server.HandleUpgrade)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	log.Printf("peer support coordinator running")
	log.Printf("  listen_addr:      %s", listenAddr)
	log.Printf("  session_duration: %s", sessionDuration)
	log.Printf("  redis_addr:       %s", orNone(redisAddr))
	log.Printf("  nats_url:         %s", orNone(natsURL))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		rooms.Shutdown(protocol.ReasonTimeout)
		server.Shutdown()
		cleanupCancel()
		publisher.Close()
		if rdb != nil {
			rdb.Close()
		}
		db.Close()
		os.Exit(0)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}

func orNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}

package main

import (
	"log"
	"net/http"
	"time"

	"ludo-live/internal/auth"
	"ludo-live/internal/chathub"
	"ludo-live/internal/conf"
	"ludo-live/internal/gateway"
	"ludo-live/internal/registry"
	"ludo-live/internal/room"
	"ludo-live/internal/store"
)

func main() {
	cfg, err := conf.Load()
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	authService, authMode, err := auth.NewService(cfg.Auth.Mode)
	if err != nil {
		log.Fatalf("[Server] Failed to init auth service: %v", err)
	}
	defer authService.Close()

	storeService, storeMode, err := store.NewService(cfg.Store.Mode, cfg.Store.SQLitePath, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("[Server] Failed to init store service: %v", err)
	}
	defer storeService.Close()

	roomCfg := room.DefaultConfig()
	roomCfg.TurnLimit = cfg.Game.TurnLimitSeconds
	roomCfg.MaxInactiveTurns = cfg.Game.MaxInactiveTurns
	roomCfg.PitySix = cfg.Game.PitySix
	roomCfg.TripleSixPenalty = cfg.Game.TripleSixPenalty
	roomCfg.RollResolveDelay = cfg.Game.RollResolveDelay()
	roomCfg.NoMoveAdvanceDelay = cfg.Game.NoMoveAdvanceDelay()
	roomCfg.AutoStartDelay = cfg.Game.AutoStartDelay()
	roomCfg.ReconnectGrace = cfg.Game.ReconnectGrace()
	roomCfg.IdleEvictDelay = cfg.Game.IdleEvictDelay()

	reg := registry.New(storeService, roomCfg)
	defer reg.Stop()

	gw := gateway.New(authService, reg)
	groupChat := chathub.New("group", authService, storeService)
	supportChat := chathub.New("support", authService, storeService)
	authHTTP := auth.NewHTTPHandler(authService)
	walletHTTP := store.NewHTTPHandler(authService, storeService)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	authHTTP.RegisterRoutes(mux)
	walletHTTP.RegisterRoutes(mux)
	mux.HandleFunc("/group-chat", groupChat.HandleWebSocket)
	mux.HandleFunc("/support", supportChat.HandleWebSocket)
	// Everything else is a game code.
	mux.HandleFunc("/", gw.HandleWebSocket)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[Server] Auth mode: %s", authMode)
	log.Printf("[Server] Store mode: %s", storeMode)
	log.Printf("[Server] Listening on %s", cfg.Server.Addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("[Server] Failed to start: %v", err)
	}
}

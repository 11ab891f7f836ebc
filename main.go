package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"pongarena/server/internal/auth"
	"pongarena/server/internal/sim"
	"pongarena/server/logging"
	loggingsinks "pongarena/server/logging/sinks"
)

// devVerifier accepts any non-empty token and uses it verbatim as the user
// id. Local development only; never runs when AUTH_SECRET is set.
type devVerifier struct{}

func (devVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading environment variables directly")
	}
	cfg := loadConfig()

	router, err := buildLogRouter(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	publisher := logging.Publisher(router)

	var verifier AuthVerifier
	if cfg.AuthSecret != "" {
		hmacVerifier, err := auth.NewHMACVerifier(cfg.AuthSecret, cfg.AuthLeeway)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		verifier = hmacVerifier
	} else {
		log.Println("AUTH_SECRET not set, accepting tokens as user ids (development mode)")
		verifier = devVerifier{}
	}

	clock := clockwork.NewRealClock()
	telemetry := newTelemetryCounters()

	registry := NewRegistry(clock, cfg.MatchRetention, publisher)
	registry.SetReporter(logResult(publisher))

	hub := NewHub(registry, verifier, publisher, telemetry)
	matchmaker := NewMatchmaker(registry, staticDirectory{}, hub, clock, publisher)
	hub.SetMatchmaker(matchmaker)

	scheduler := NewScheduler(registry, hub, clock, cfg.TickInterval, publisher, telemetry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go scheduler.Run(ctx)

	jobs, err := startJobs(cfg, matchmaker, registry, publisher)
	if err != nil {
		log.Fatalf("jobs: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"matches":   registry.Len(),
			"telemetry": telemetry.Snapshot(),
			"logging":   router.Stats(),
		})
	})
	mux.HandleFunc("/matches/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/matches/")
		if id == "rules" {
			writeJSON(w, http.StatusOK, rulesResponse{
				Classic: sim.ClassicRules(),
				Turbo:   sim.TurboRules(),
			})
			return
		}
		match, err := registry.Find(id)
		if err != nil {
			if errors.Is(err, ErrMatchNotFound) {
				http.Error(w, "match not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, match.Info())
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		jobs.Shutdown()
		router.Close(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}

func buildLogRouter(cfg logging.Config) (*logging.Router, error) {
	var named []logging.NamedSink
	for _, name := range cfg.EnabledSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{
				Name: "console",
				Sink: loggingsinks.NewConsole(os.Stdout, cfg.Console),
			})
		case "json":
			out := os.Stdout
			if cfg.JSON.FilePath != "" {
				file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return nil, err
				}
				out = file
			}
			named = append(named, logging.NamedSink{Name: "json", Sink: loggingsinks.NewJSON(out)})
		case "memory":
			named = append(named, logging.NamedSink{Name: "memory", Sink: loggingsinks.NewMemory()})
		}
	}
	return logging.NewRouter(nil, cfg, named), nil
}

// logResult records finished matches through the event bus. A persistent
// result store would slot in here.
func logResult(publisher logging.Publisher) func(MatchResult) {
	return func(result MatchResult) {
		publisher.Publish(context.Background(), logging.Event{
			Type:     "lifecycle.match_result",
			Actor:    logging.MatchRef(result.MatchID),
			Severity: logging.SeverityInfo,
			Category: logging.CategoryLifecycle,
			Payload:  result,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

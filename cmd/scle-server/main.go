// Command scle-server is a standalone process exposing the Script
// Configuration Loading Engine over HTTP/WebSocket, wired the way the
// teacher's cmd/api/main.go wires its own gateway: flag + godotenv
// config, a plain net/http.ServeMux, a hand-rolled permissive CORS
// middleware, and an h2c-wrapped listener.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"scle/internal/collaborators"
	"scle/internal/config"
	"scle/internal/engine"
	"scle/internal/llmresolver"
	"scle/internal/loader"
	"scle/internal/notifier"
	"scle/internal/reportstore"
	"scle/internal/scriptconfig"
	"scle/internal/stamp"
	"scle/internal/tracelog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("scle: load config: %v", err)
	}

	sink, err := reportstore.NewFromDSN(cfg.ReportStoreDSN)
	if err != nil {
		log.Fatalf("scle: report store: %v", err)
	}
	defer sink.Close()

	trace := tracelog.New(cfg.TraceDir)

	live := collaborators.NewMapLiveFiles()
	registry := collaborators.NewStaticRegistry()
	settings := collaborators.NewStaticSettings(cfg.AutoReload)
	hub := notifier.NewHub()

	chain := buildLoaders(cfg, sink, live)

	eng := engine.New(engine.Options{
		Loaders:       chain,
		Registry:      registry,
		Settings:      settings,
		LiveFiles:     live,
		ReportSink:    sink,
		Panel:         hub,
		Rehighlighter: collaborators.NewChannelRehighlighter(256),
		Trace:         trace,
		TestMode:      cfg.TestMode,
	})
	defer eng.Close()

	mux := http.NewServeMux()
	registerRoutes(mux, eng, registry, live, eng.Notifier, hub)
	registerTraceRoute(mux, eng)

	h := withCORS(mux)

	log.Printf("scle: starting server on %s (env=%s, autoReload=%v, testMode=%v)", cfg.Port, cfg.Env, cfg.AutoReload, cfg.TestMode)
	log.Fatal(http.ListenAndServe(cfg.Port, h2c.NewHandler(h, &http2.Server{})))
}

func buildLoaders(cfg *config.Config, sink *reportstore.Store, live *collaborators.MapLiveFiles) []loader.Loader {
	liveFileFor := func(fk scriptconfig.FileKey) stamp.LiveFile {
		return live.Resolve(fk)
	}

	chain := []loader.Loader{
		loader.NewPersistedAttributeLoader(sink, liveFileFor),
		loader.NewProcessResolverLoader(live.Read),
	}

	if cfg.LLMResolver && cfg.GeminiAPIKey != "" {
		client, err := llmresolver.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, 1)
		if err != nil {
			log.Printf("scle: llm resolver disabled, client init failed: %v", err)
		} else {
			chain = append(chain, llmresolver.NewLLMResolverLoader(client, true, live.Read))
		}
	}

	return chain
}

// registerRoutes wires the minimal HTTP surface a host editor process
// needs: document-change intake, the websocket notification panel, and
// accept/dismiss/get endpoints for environments that don't want the
// websocket round trip.
func registerRoutes(mux *http.ServeMux, eng *engine.Engine, registry *collaborators.StaticRegistry, live *collaborators.MapLiveFiles, watcher *notifier.DocumentWatcher, hub *notifier.Hub) {
	mux.HandleFunc("/scle/ws", hub.ServeWS)

	mux.HandleFunc("/scle/change", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var in struct {
			FileKey string `json:"fileKey"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		fk := scriptconfig.FileKey(strings.TrimSpace(in.FileKey))
		if fk == "" {
			http.Error(w, "fileKey is required", http.StatusBadRequest)
			return
		}
		registry.Define(fk, scriptconfig.ScriptDefinition{})
		live.Set(fk, []byte(in.Content))
		watcher.Changed(fk)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/scle/config", func(w http.ResponseWriter, r *http.Request) {
		fk := scriptconfig.FileKey(strings.TrimSpace(r.URL.Query().Get("fileKey")))
		if fk == "" {
			http.Error(w, "fileKey is required", http.StatusBadRequest)
			return
		}
		cfg := eng.GetConfiguration(fk)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fileKey":   fk,
			"hasConfig": cfg != nil,
			"config":    cfg,
			"pending":   eng.HasPending(fk),
		})
	})

	mux.HandleFunc("/scle/apply", func(w http.ResponseWriter, r *http.Request) {
		fk := scriptconfig.FileKey(strings.TrimSpace(r.URL.Query().Get("fileKey")))
		applied := eng.ApplyPending(fk)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"applied": applied})
	})

	mux.HandleFunc("/scle/dismiss", func(w http.ResponseWriter, r *http.Request) {
		fk := scriptconfig.FileKey(strings.TrimSpace(r.URL.Query().Get("fileKey")))
		eng.DismissPending(fk)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
}

// registerTraceRoute exposes the per-file trace history kept by
// internal/tracelog: the raw event list plus the folded per-stage
// summary, for an operator diagnosing whether a file's loads are
// coalescing for free or its applies are failing.
func registerTraceRoute(mux *http.ServeMux, eng *engine.Engine) {
	mux.HandleFunc("/scle/trace", func(w http.ResponseWriter, r *http.Request) {
		fk := scriptconfig.FileKey(strings.TrimSpace(r.URL.Query().Get("fileKey")))
		if fk == "" {
			http.Error(w, "fileKey is required", http.StatusBadRequest)
			return
		}
		if eng.Trace == nil {
			http.Error(w, "trace logging is disabled", http.StatusNotFound)
			return
		}
		events, err := eng.Trace.Read(fk)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		summary, err := eng.Trace.Summarize(fk)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fileKey": fk,
			"events":  events,
			"summary": summary,
		})
	})
}

// withCORS is the same permissive, credential-aware CORS middleware
// shape as cmd/api/main.go.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

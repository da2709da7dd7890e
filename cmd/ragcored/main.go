// Command ragcored serves the retrieval-augmented QA core's HTTP surface
// spec.md §6 names: the standard/reranking/verified RAG pipelines, the
// retrieval-only endpoint, and the stateless AgentStep. Grounded on
// cmd/agentd/main.go's wiring shape (.env -> config -> logger -> otel ->
// http client -> engines -> mux -> ListenAndServe).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"aleutianrag/internal/agentstep"
	"aleutianrag/internal/config"
	"aleutianrag/internal/docstore"
	"aleutianrag/internal/embedclient"
	"aleutianrag/internal/httpapi"
	"aleutianrag/internal/llmgateway"
	"aleutianrag/internal/obs"
	"aleutianrag/internal/promptbuilder"
	"aleutianrag/internal/ragengine"
	"aleutianrag/internal/rerank"
	"aleutianrag/internal/retrieve"
	"aleutianrag/internal/verify"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config.yaml")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	obs.InitLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.OTLPEndpoint != "" {
		shutdown, err := obs.InitOTel(ctx, cfg.Observability)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	secrets := config.SecretStore{Dir: cfg.SecretsPath}

	store, err := docstore.New(cfg.Qdrant.DSN, cfg.Qdrant.DocumentCollection, cfg.Qdrant.LogCollection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("docstore init failed")
	}
	defer store.Close()

	embedder := embedclient.New(cfg.Embedding.BaseURL, cfg.EmbedPrefix, cfg.Embedding.Model)

	var reranker retrieve.Reranker = rerank.Noop{}
	if cfg.Reranker.BaseURL != "" {
		reranker = rerank.New(cfg.Reranker.BaseURL, cfg.Reranker.Model)
	}

	retriever := &retrieve.Retriever{
		Embedder:          embedder,
		Store:             store,
		Reranker:          reranker,
		Cfg:               cfg.Retrieval,
		MaxEvidenceLength: cfg.Verification.MaxEvidenceLength,
	}

	optimist, err := llmgateway.Build(cfg.Provider, secrets, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("optimist provider build failed")
	}

	prompts := &promptbuilder.Builder{}
	if p := cfg.Verification.SkepticExamplesPath; p != "" {
		if b, err := os.ReadFile(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("reading skeptic examples failed, using built-in examples")
		} else {
			prompts.SkepticExamples = string(b)
		}
	}

	standardEngine := ragengine.NewSimple(retriever, optimist, prompts, cfg.Provider)
	rerankingEngine := ragengine.NewReranking(retriever, optimist, prompts, cfg.Provider)

	debatePublisher := obs.NewDebatePublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() { _ = debatePublisher.Close() }()

	verifyOpts := []verify.Option{
		verify.WithEmbedder(embedder),
		verify.WithDebateLog(store),
		verify.WithDebatePublisher(debatePublisher),
	}
	if cfg.SkepticProvider != nil {
		skeptic, err := llmgateway.Build(*cfg.SkepticProvider, secrets, httpClient)
		if err != nil {
			log.Fatal().Err(err).Msg("skeptic provider build failed")
		}
		verifyOpts = append(verifyOpts, verify.WithSkeptic(skeptic, *cfg.SkepticProvider))
	}
	verifiedEngine := verify.New(retriever, optimist, prompts, cfg.Verification, cfg.Provider, verifyOpts...)

	var agentProvider agentstep.Provider
	if cfg.Provider.Provider == "openai" || cfg.Provider.Provider == "" {
		apiKey, err := secrets.Read("openai_api_key")
		if err != nil {
			log.Fatal().Err(err).Msg("reading openai api key for agent provider failed")
		}
		agentProvider = agentstep.NewOpenAIChatProvider(cfg.Provider.BaseURL, apiKey, httpClient)
	} else {
		log.Warn().Str("provider", cfg.Provider.Provider).Msg("agent step has no tool-calling provider for this backend; /agent/step will error")
	}

	var agentStep httpapi.AgentStep
	if agentProvider != nil {
		agentStep = &agentstep.Step{
			Provider:    agentProvider,
			Model:       cfg.Provider.Model,
			ProjectRoot: cfg.AgentProjectRoot,
			Backend:     agentstep.NewBackendClient(cfg.AgentBackendURL, httpClient),
		}
	}

	server := httpapi.NewServer(standardEngine, rerankingEngine, verifiedEngine, retriever, agentStep)

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("ragcored listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

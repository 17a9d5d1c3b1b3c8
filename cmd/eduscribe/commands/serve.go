package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eduscribe/eduscribe/pkg/cli"
	"github.com/eduscribe/eduscribe/pkg/corpus"
	"github.com/eduscribe/eduscribe/pkg/embed"
	"github.com/eduscribe/eduscribe/pkg/kv"
	"github.com/eduscribe/eduscribe/pkg/lecture"
	"github.com/eduscribe/eduscribe/pkg/live"
	"github.com/eduscribe/eduscribe/pkg/notes"
	"github.com/eduscribe/eduscribe/pkg/pipeline"
	"github.com/eduscribe/eduscribe/pkg/speech"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live lecture pipeline server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if serveListen != "" {
			cfg.Listen = serveListen
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
}

func runServe(ctx context.Context, cfg *cli.Config) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	embedder := newEmbedder(cfg)
	store := corpus.NewStore(db, embedder)
	journal := lecture.NewJournal(db)
	chat := newChatClient(cfg)

	manager := pipeline.NewManager(pipeline.Config{
		QueueSize:         cfg.Pipeline.QueueSize,
		MinImportance:     cfg.Pipeline.MinImportance,
		BufferMin:         cfg.Pipeline.BufferMin,
		SynthesisInterval: cfg.Pipeline.SynthesisInterval(),
		RetrievalTopK:     cfg.Pipeline.RetrievalTopK,
	}, pipeline.Deps{
		Transcriber: newTranscriber(cfg),
		Raw:         notes.NewRawGenerator(chat),
		Synth:       notes.NewSynthesizer(chat),
		Retriever:   store,
		Journal:     journal,
	})
	defer manager.Close()

	mux := http.NewServeMux()
	live.NewHandler(manager, store).Routes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Println(cli.Banner(styles, "eduscribe", "listening on "+cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func openStore(cfg *cli.Config) (kv.Store, error) {
	dir := cfg.DataDir
	if dir == "" {
		paths, err := cli.NewPaths()
		if err != nil {
			return nil, err
		}
		if err := paths.EnsureDataDir(); err != nil {
			return nil, err
		}
		dir = paths.DataDir()
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: dir})
}

func newEmbedder(cfg *cli.Config) embed.Embedder {
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("no OpenAI key configured, using local hash embeddings")
		return embed.NewHash(256)
	}
	var opts []embed.Option
	if cfg.OpenAI.EmbedModel != "" {
		opts = append(opts, embed.WithModel(cfg.OpenAI.EmbedModel))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, embed.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	return embed.NewOpenAI(cfg.OpenAI.APIKey, opts...)
}

func newTranscriber(cfg *cli.Config) speech.Transcriber {
	var opts []speech.WhisperOption
	if cfg.Whisper.Model != "" {
		opts = append(opts, speech.WithModel(cfg.Whisper.Model))
	}
	if cfg.Whisper.BaseURL != "" {
		opts = append(opts, speech.WithBaseURL(cfg.Whisper.BaseURL))
	}
	key := cfg.Whisper.APIKey
	if key == "" {
		key = cfg.OpenAI.APIKey
	}
	return speech.NewWhisper(key, opts...)
}

func newChatClient(cfg *cli.Config) notes.ChatClient {
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("no OpenAI key configured, notes degrade to local summaries")
		return nil
	}
	var opts []notes.ChatOption
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, notes.WithChatBaseURL(cfg.OpenAI.BaseURL))
	}
	return notes.NewOpenAIChat(cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel, opts...)
}

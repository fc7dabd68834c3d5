package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/chadiek/chitti/internal/config"
	httpserver "github.com/chadiek/chitti/internal/httpserver"
	"github.com/chadiek/chitti/internal/llm"
	"github.com/chadiek/chitti/internal/logging"
	"github.com/chadiek/chitti/internal/speech"
	"github.com/chadiek/chitti/internal/stt"
	"github.com/chadiek/chitti/internal/tts"
	"github.com/chadiek/chitti/internal/widget"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	h := widget.NewHandler(newCompleter(cfg, log), widgetOptions(cfg), log, providers(cfg, log)...)
	srv := httpserver.New(cfg.HTTP, h, log)

	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		st := h.Status()
		log.Info().Str("addr", cfg.HTTP.Address).Str("input", string(st.Input)).Str("output", string(st.Output)).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Stringer("signal", sig).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	h.Shutdown()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}

func newCompleter(cfg *config.Config, log zerolog.Logger) *llm.Client {
	c := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	c.BaseURL = cfg.LLM.BaseURL
	c.MaxTokens = cfg.LLM.MaxTokens
	c.Temperature = cfg.LLM.Temperature
	c.Timeout = cfg.LLM.Timeout
	c.Logger = log.With().Str("component", "llm").Logger()
	return c
}

func widgetOptions(cfg *config.Config) widget.Options {
	opts := widget.Options{
		Assistant:      cfg.Assistant.Name,
		Greeting:       cfg.Assistant.Greeting,
		Voice:          cfg.Voice.Voice(),
		CaptureTimeout: cfg.Speech.CaptureTimeout,
	}
	switch cfg.Speech.Input {
	case config.ProviderBrowser:
		opts.Input = widget.InputBrowser
	case config.ProviderAssemblyAI:
		opts.Input = widget.InputServer
	default:
		opts.Input = widget.InputNone
	}
	switch cfg.Speech.Output {
	case config.ProviderBrowser:
		opts.Output = widget.OutputBrowser
	case config.ProviderDeepgram, config.ProviderElevenLabs:
		opts.Output = widget.OutputServer
	default:
		opts.Output = widget.OutputNone
	}
	return opts
}

// providers wires the server-side speech providers named in cfg. A provider
// without a key is left out, which disables that capability.
func providers(cfg *config.Config, log zerolog.Logger) []widget.HandlerOption {
	var hopts []widget.HandlerOption
	if cfg.Speech.Input == config.ProviderAssemblyAI && cfg.AssemblyAI.APIKey != "" {
		aai := cfg.AssemblyAI
		sttLog := log.With().Str("component", "stt").Logger()
		hopts = append(hopts, widget.WithTranscriber(func() speech.Transcriber {
			return stt.NewAssemblyAI(aai.APIKey, stt.Options{
				URL:          aai.URL,
				Silence:      aai.Silence,
				Continuation: aai.Continuation,
				Grace:        aai.Grace,
			}, sttLog)
		}))
	}

	ttsLog := log.With().Str("component", "tts").Logger()
	switch cfg.Speech.Output {
	case config.ProviderDeepgram:
		if cfg.Deepgram.APIKey != "" {
			hopts = append(hopts, widget.WithStreamer(tts.NewDeepgramClient(cfg.Deepgram.APIKey, cfg.Deepgram.Model, ttsLog)))
		}
	case config.ProviderElevenLabs:
		if cfg.ElevenLabs.APIKey != "" && cfg.ElevenLabs.VoiceID != "" {
			el := tts.NewElevenLabsClient(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.VoiceID, ttsLog)
			el.Model = cfg.ElevenLabs.Model
			el.BaseURL = cfg.ElevenLabs.BaseURL
			hopts = append(hopts, widget.WithStreamer(el))
		}
	}

	if origins := cfg.HTTP.AllowedOrigins; len(origins) > 0 && origins[0] != "*" {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		hopts = append(hopts, widget.WithCheckOrigin(func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}))
	}
	return hopts
}

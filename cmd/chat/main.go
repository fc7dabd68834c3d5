package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/chadiek/chitti/internal/agent"
	"github.com/chadiek/chitti/internal/config"
	"github.com/chadiek/chitti/internal/llm"
	"github.com/chadiek/chitti/internal/logging"
	"github.com/chadiek/chitti/internal/speech"
	"github.com/chadiek/chitti/internal/transcript"
	"github.com/chadiek/chitti/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	logPath := pflag.String("log-file", "", "write logs to this file instead of discarding them")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// the terminal belongs to the UI
	var logOut io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	log, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	client.BaseURL = cfg.LLM.BaseURL
	client.MaxTokens = cfg.LLM.MaxTokens
	client.Temperature = cfg.LLM.Temperature
	client.Timeout = cfg.LLM.Timeout
	client.Logger = log.With().Str("component", "llm").Logger()

	// no microphone or speaker in a terminal
	input := speech.NewInput(nil, speech.WithInputLogger(log))
	output := speech.NewOutput(nil, speech.WithVoice(cfg.Voice.Voice()), speech.WithOutputLogger(log))
	defer input.Close()
	defer output.Close()

	view := &tui.View{}
	opts := []agent.Option{agent.WithLogger(log)}
	if cfg.Assistant.Greeting != "" {
		opts = append(opts, agent.WithGreeting(cfg.Assistant.Greeting))
	}
	ctl := agent.New(transcript.NewStore(), client, input, output, view, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(tui.New(ctx, ctl, cfg.Assistant.Name), tea.WithAltScreen(), tea.WithContext(ctx))
	view.Attach(p)
	go func() {
		if err := ctl.Run(ctx); err != nil {
			log.Error().Err(err).Msg("controller stopped")
		}
	}()

	_, err = p.Run()
	cancel()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

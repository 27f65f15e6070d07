// ripgrip - interactive incremental search over a directory tree
//
// Usage:
//
//	ripgrip [pattern]                  Start a search session in the cwd
//	ripgrip -d <dir> [pattern]         Anchor the session to a workspace root
//	ripgrip --doc <file> [pattern]     Anchor to a document's directory
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"ripgrip/internal/config"
	"ripgrip/internal/domain"
	"ripgrip/internal/eventbus"
	"ripgrip/internal/search"
	"ripgrip/internal/session"
	"ripgrip/internal/ui"
)

var (
	dirFlag         string
	docFlag         string
	caseFlag        string
	regexFlag       bool
	wordFlag        bool
	binaryFlag      string
	writeConfigFlag bool
)

func main() {
	flag.StringVarP(&dirFlag, "dir", "d", "", "workspace root to search")
	flag.StringVar(&docFlag, "doc", "", "requesting document; its directory becomes the initial search root")
	flag.StringVar(&caseFlag, "case", "smart", "case mode: smart, ignore, or strict")
	flag.BoolVar(&regexFlag, "regex", false, "treat the pattern as a regular expression")
	flag.BoolVar(&wordFlag, "word", false, "match whole words only")
	flag.StringVar(&binaryFlag, "rg", "", "search tool binary (overrides config)")
	flag.BoolVar(&writeConfigFlag, "write-config", false, "write the default config file and exit")
	flag.Parse()

	// Set up logging
	logFile, err := os.OpenFile("ripgrip.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("Could not open log file: %v", err)
	} else {
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	// Load configuration
	configSvc := config.NewConfigService()
	if writeConfigFlag {
		if err := configSvc.Save(config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		return
	}
	cfg, err := configSvc.Load()
	if err != nil {
		log.Printf("Error loading config: %v", err)
		cfg = config.DefaultConfig()
	}
	if binaryFlag != "" {
		cfg.Binary = binaryFlag
	}

	caseMode, err := parseCaseMode(caseFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Workspace root defaults to the current directory
	workspaceRoot := dirFlag
	if workspaceRoot == "" {
		workspaceRoot, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
			os.Exit(1)
		}
	}

	origin := domain.OriginWorkspace
	if docFlag != "" {
		origin = domain.OriginDoc
	}

	// Create event bus
	bus := eventbus.New()

	// Initialize services
	searchSvc := search.NewService(bus, cfg.Binary)
	sink := ui.NewProgramSink()

	controller, err := session.New(session.StartOptions{
		DocPath:         docFlag,
		WorkspaceRoot:   workspaceRoot,
		Origin:          origin,
		MaxResults:      cfg.MaxResults,
		Case:            caseMode,
		Regex:           regexFlag,
		Word:            wordFlag,
		FlushFirstDelay: time.Duration(cfg.Throttle.FirstDelayMs) * time.Millisecond,
		FlushGap:        time.Duration(cfg.Throttle.GapMs) * time.Millisecond,
	}, searchSvc, sink, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Create UI model
	uiModel := ui.NewModel(controller, cfg, flag.Arg(0))

	// Create Bubble Tea program
	p := tea.NewProgram(uiModel, tea.WithAltScreen())
	uiModel.SetProgram(p)
	sink.Bind(p.Send)

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		p.Quit()
	}()

	// Set up event forwarding to UI
	eventChan := make(chan eventbus.DomainEvent, 100)
	forward := func(e eventbus.DomainEvent) {
		select {
		case eventChan <- e:
		default:
			// Channel full, drop event
			log.Println("Event channel full, dropping event")
		}
	}
	bus.Subscribe(eventbus.EventMatchBatch, forward)
	bus.Subscribe(eventbus.EventSummary, forward)
	bus.Subscribe(eventbus.EventQueryError, forward)
	bus.Subscribe(eventbus.EventProcessExited, forward)

	// Start forwarding events to UI in background
	go func() {
		for event := range eventChan {
			p.Send(ui.EventMsg{Event: event})
		}
	}()

	// Run the UI
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}

	// Cleanup: make sure no search process outlives the session. The bus is
	// closed before the forwarding channel so no handler can send on it after.
	searchSvc.Kill()
	bus.Close()
	close(eventChan)
}

func parseCaseMode(s string) (domain.CaseMode, error) {
	switch s {
	case "smart":
		return domain.CaseSmart, nil
	case "ignore":
		return domain.CaseIgnore, nil
	case "strict":
		return domain.CaseStrict, nil
	default:
		return domain.CaseSmart, fmt.Errorf("unknown case mode %q (want smart, ignore, or strict)", s)
	}
}

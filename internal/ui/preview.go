package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/noborus/ov/oviewer"
)

// showFileInPager opens a matched file in the ov pager with a marker on the
// matched line. It releases the terminal for the duration of the pager.
func showFileInPager(program *tea.Program, path string, line int) error {
	if program == nil {
		return fmt.Errorf("program not set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Release terminal control to run ov
	if err := program.ReleaseTerminal(); err != nil {
		return err
	}

	// Ensure terminal is restored even if ov fails
	defer func() {
		// Small delay to ensure ov has fully exited before restoring terminal
		time.Sleep(100 * time.Millisecond)
		_ = program.RestoreTerminal() // Ignore error as we're in defer context
	}()

	reader := strings.NewReader(markMatchLine(path, string(data), line))

	root, err := oviewer.NewRoot(reader)
	if err != nil {
		return err
	}

	// Configure ov to not write on exit (to avoid messing with our screen)
	config := oviewer.NewConfig()
	config.IsWriteOnExit = false
	config.IsWriteOriginal = false
	root.SetConfig(config)

	// Run the oviewer (this will take over the terminal)
	return root.Run()
}

// markMatchLine prefixes every line with its number and points at the match
func markMatchLine(path, content string, line int) string {
	lines := strings.Split(content, "\n")

	var b strings.Builder
	b.WriteString(path + "\n\n")
	for i, l := range lines {
		marker := "  "
		if i+1 == line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%6d  %s\n", marker, i+1, l)
	}
	return b.String()
}

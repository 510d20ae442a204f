package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/emmett/companion/internal/turn"
)

// ConsoleOutput prints status and conversation lines for a person watching
// the terminal
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	errWriter     io.Writer
	showTimestamp bool
	showPartials  bool
	partial       bool
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes each line with a timestamp
	ShowTimestamp bool

	// ShowPartials echoes interim text on a rewritten line
	ShowPartials bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer

	// ErrWriter receives error lines (default: os.Stderr)
	ErrWriter io.Writer
}

// NewConsoleOutput creates a new console output handler
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	errWriter := config.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}

	return &ConsoleOutput{
		writer:        writer,
		errWriter:     errWriter,
		showTimestamp: config.ShowTimestamp,
		showPartials:  config.ShowPartials,
	}
}

// DefaultConsoleOutput creates a console output with default settings
func DefaultConsoleOutput() *ConsoleOutput {
	return NewConsoleOutput(ConsoleConfig{ShowTimestamp: true})
}

// Transcript prints one conversation line
func (c *ConsoleOutput) Transcript(e turn.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Partial {
		if c.showPartials {
			fmt.Fprintf(c.writer, "\r... %s", e.Text)
			c.partial = true
		}
		return
	}
	c.endPartialLocked()

	speaker := "You"
	if e.Role == turn.RoleCompanion {
		speaker = "Companion"
	}
	fmt.Fprintf(c.writer, "%s%s: %s\n", c.stamp(), speaker, e.Text)
}

// State prints a state transition
func (c *ConsoleOutput) State(from, to turn.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endPartialLocked()
	fmt.Fprintf(c.writer, "%s[*] %s -> %s\n", c.stamp(), from, to)
}

// Info writes an informational message
func (c *ConsoleOutput) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endPartialLocked()
	fmt.Fprintf(c.writer, "[INFO] %s\n", msg)
}

// Error writes an error message
func (c *ConsoleOutput) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endPartialLocked()
	fmt.Fprintf(c.errWriter, "[ERROR] %s\n", msg)
}

// Status writes a status message that the next line overwrites
func (c *ConsoleOutput) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\r[*] %s", msg)
	c.partial = true
}

func (c *ConsoleOutput) endPartialLocked() {
	if c.partial {
		fmt.Fprintln(c.writer)
		c.partial = false
	}
}

func (c *ConsoleOutput) stamp() string {
	if !c.showTimestamp {
		return ""
	}
	return "[" + time.Now().Format(time.TimeOnly) + "] "
}

package bridge

import (
	"strings"

	"github.com/bingosuite/inspector/internal/debuggee"
)

// ConsoleBackend is the capability surface of the Console domain.
type ConsoleBackend interface {
	Enable() error
	Disable() error
	ClearMessages() error
}

type ConsoleMessage struct {
	Source string `json:"source"`
	Level  string `json:"level"`
	Text   string `json:"text"`
}

type messageAdded struct {
	Message ConsoleMessage `json:"message"`
}

type consoleDomain struct {
	l       *Loop
	enabled bool
}

var _ ConsoleBackend = (*consoleDomain)(nil)

func (c *consoleDomain) Register(r *Registry, _ *Loop) {
	r.Handle("Console.enable", Do(c.Enable))
	r.Handle("Console.disable", Do(c.Disable))
	r.Handle("Console.clearMessages", Do(c.ClearMessages))
}

func (c *consoleDomain) Enable() error {
	c.enabled = true
	return nil
}

func (c *consoleDomain) Disable() error {
	c.enabled = false
	return nil
}

// ClearMessages has nothing to clear: messages are not retained.
func (c *consoleDomain) ClearMessages() error {
	return nil
}

func (c *consoleDomain) reset() {
	c.enabled = false
}

func (c *consoleDomain) emitMessageAdded(level string, args []debuggee.Value) {
	if !c.enabled {
		return
	}
	texts := make([]string, len(args))
	for i, a := range args {
		texts[i] = a.Describe()
	}
	c.l.Emit("Console", "messageAdded", messageAdded{Message: ConsoleMessage{
		Source: "console-api",
		Level:  consoleLevel(level),
		Text:   strings.Join(texts, " "),
	}})
}

// consoleLevel maps console API call types onto Console message levels.
func consoleLevel(level string) string {
	switch level {
	case "warning", "warn":
		return "warning"
	case "error":
		return "error"
	case "debug":
		return "debug"
	case "info":
		return "info"
	default:
		return "log"
	}
}

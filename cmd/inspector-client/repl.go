package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/tidwall/gjson"
	"golang.org/x/term"

	"github.com/bingosuite/inspector/pkg/client"
)

const helpText = `Commands:
  c, continue        resume execution
  s, step            step into
  n, next            step over
  o, out             step out
  p, pause           pause at the next statement
  r, run             release a script waiting for the debugger
  b [url] <line>     set a breakpoint (1-based line)
  d <id>             delete a breakpoint
  bt                 print the call stack
  e <expr>           evaluate in the current frame
  src                list the current script
  q, quit            detach and exit`

type repl struct {
	c   *client.Client
	out io.Writer

	mu      sync.Mutex
	scripts map[string]string // script id -> url
	lastURL string
}

func newREPL(c *client.Client, out io.Writer) *repl {
	return &repl{c: c, out: out, scripts: make(map[string]string)}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// watch prints notifications until the connection ends.
func (r *repl) watch() {
	for ev := range r.c.Events() {
		switch ev.Method {
		case "Debugger.scriptParsed":
			r.mu.Lock()
			url := ev.Params.Get("url").String()
			r.scripts[ev.Params.Get("scriptId").String()] = url
			r.lastURL = url
			r.mu.Unlock()
		case "Debugger.paused":
			top := ev.Params.Get("callFrames.0")
			r.printf("\npaused (%s) at %s\n", ev.Params.Get("reason").String(), r.location(top.Get("location")))
		case "Runtime.consoleAPICalled":
			var parts []string
			for _, arg := range ev.Params.Get("args").Array() {
				if arg.Get("type").String() == "string" {
					parts = append(parts, arg.Get("value").String())
					continue
				}
				parts = append(parts, client.Render(arg))
			}
			r.printf("%s\n", strings.Join(parts, "\t"))
		}
	}
	r.printf("\nconnection closed\n")
}

func (r *repl) location(loc gjson.Result) string {
	r.mu.Lock()
	url := r.scripts[loc.Get("scriptId").String()]
	r.mu.Unlock()
	return fmt.Sprintf("%s:%d", url, loc.Get("lineNumber").Int()+1)
}

func (r *repl) loop(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if r.execute(ctx, scanner.Text()) {
				return nil
			}
		}
		return scanner.Err()
	}

	line := liner.NewLiner()
	defer func() { _ = line.Close() }()
	line.SetCtrlCAborts(true)
	for {
		input, err := line.Prompt(fmt.Sprintf("[%s] > ", r.c.State()))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if r.execute(ctx, input) {
			return nil
		}
	}
}

// execute runs one command line and reports whether the user asked to quit.
func (r *repl) execute(ctx context.Context, raw string) bool {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return false
	}
	select {
	case <-r.c.Done():
		r.printf("not connected\n")
		return true
	default:
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "c", "continue":
		err = r.c.Resume(ctx)
	case "s", "step":
		err = r.c.StepInto(ctx)
	case "n", "next":
		err = r.c.StepOver(ctx)
	case "o", "out":
		err = r.c.StepOut(ctx)
	case "p", "pause":
		err = r.c.Pause(ctx)
	case "r", "run":
		err = r.c.RunIfWaitingForDebugger(ctx)
	case "b", "break":
		err = r.setBreakpoint(ctx, fields[1:])
	case "d", "delete":
		if len(fields) != 2 {
			err = errors.New("usage: d <id>")
			break
		}
		err = r.c.RemoveBreakpoint(ctx, fields[1])
	case "bt", "backtrace":
		err = r.backtrace()
	case "e", "eval", "print":
		var v gjson.Result
		if v, err = r.c.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), fields[0]))); err == nil {
			r.printf("%s\n", client.Render(v))
		}
	case "src", "list":
		err = r.listSource(ctx)
	case "h", "help":
		r.printf("%s\n", helpText)
	case "q", "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q, try help", fields[0])
	}
	if err != nil {
		r.printf("error: %v\n", err)
	}
	return false
}

// currentURL is the script of the top frame while paused, else the last
// script loaded.
func (r *repl) currentURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := r.c.Paused().Get("callFrames.0.location.scriptId"); id.Exists() {
		return r.scripts[id.String()]
	}
	return r.lastURL
}

func (r *repl) setBreakpoint(ctx context.Context, args []string) error {
	url, line, err := parseBreakpoint(args, r.currentURL())
	if err != nil {
		return err
	}
	id, lines, err := r.c.SetBreakpointByURL(ctx, url, line-1)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		r.printf("breakpoint %s pending: no statement at %s:%d\n", id, url, line)
		return nil
	}
	r.printf("breakpoint %s at %s:%d\n", id, url, lines[0]+1)
	return nil
}

// parseBreakpoint reads "<line>" or "<url> <line>". Lines are 1-based.
func parseBreakpoint(args []string, current string) (string, int, error) {
	url := current
	var lineStr string
	switch len(args) {
	case 1:
		lineStr = args[0]
	case 2:
		url, lineStr = args[0], args[1]
	default:
		return "", 0, errors.New("usage: b <line> or b <url> <line>")
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line number %q", lineStr)
	}
	if url == "" {
		return "", 0, errors.New("no script loaded yet; give a url")
	}
	return url, line, nil
}

func (r *repl) backtrace() error {
	frames := r.c.Paused().Get("callFrames")
	if !frames.Exists() {
		return errors.New("not paused")
	}
	for i, f := range frames.Array() {
		name := f.Get("functionName").String()
		if name == "" {
			name = "(main)"
		}
		r.printf("#%d %s at %s\n", i, name, r.location(f.Get("location")))
	}
	return nil
}

func (r *repl) listSource(ctx context.Context) error {
	current := int64(-1)
	loc := r.c.Paused().Get("callFrames.0.location")
	scriptID := loc.Get("scriptId").String()
	if loc.Exists() {
		current = loc.Get("lineNumber").Int()
	} else {
		r.mu.Lock()
		for id, url := range r.scripts {
			if url == r.lastURL {
				scriptID = id
			}
		}
		r.mu.Unlock()
	}
	if scriptID == "" {
		return errors.New("no script loaded yet")
	}

	source, err := r.c.ScriptSource(ctx, scriptID)
	if err != nil {
		return err
	}
	for i, text := range strings.Split(strings.TrimRight(source, "\n"), "\n") {
		marker := "  "
		if int64(i) == current {
			marker = "=>"
		}
		r.printf("%s %4d  %s\n", marker, i+1, text)
	}
	return nil
}

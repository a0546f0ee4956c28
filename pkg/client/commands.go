package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Enable turns on the Runtime, Debugger and Console domains.
func (c *Client) Enable(ctx context.Context) error {
	for _, method := range []string{"Runtime.enable", "Debugger.enable", "Console.enable"} {
		if _, err := c.Call(ctx, method, nil); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	return nil
}

func (c *Client) RunIfWaitingForDebugger(ctx context.Context) error {
	_, err := c.Call(ctx, "Runtime.runIfWaitingForDebugger", nil)
	return err
}

func (c *Client) Resume(ctx context.Context) error {
	_, err := c.Call(ctx, "Debugger.resume", nil)
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	_, err := c.Call(ctx, "Debugger.pause", nil)
	return err
}

func (c *Client) StepInto(ctx context.Context) error {
	_, err := c.Call(ctx, "Debugger.stepInto", nil)
	return err
}

func (c *Client) StepOver(ctx context.Context) error {
	_, err := c.Call(ctx, "Debugger.stepOver", nil)
	return err
}

func (c *Client) StepOut(ctx context.Context) error {
	_, err := c.Call(ctx, "Debugger.stepOut", nil)
	return err
}

// SetBreakpointByURL sets a breakpoint on a 0-based line of every script
// loaded from url. It returns the breakpoint id and the resolved lines.
func (c *Client) SetBreakpointByURL(ctx context.Context, url string, line int) (string, []int64, error) {
	res, err := c.Call(ctx, "Debugger.setBreakpointByUrl", map[string]any{
		"url":        url,
		"lineNumber": line,
	})
	if err != nil {
		return "", nil, err
	}
	var lines []int64
	for _, loc := range res.Get("locations").Array() {
		lines = append(lines, loc.Get("lineNumber").Int())
	}
	return res.Get("breakpointId").String(), lines, nil
}

func (c *Client) RemoveBreakpoint(ctx context.Context, id string) error {
	_, err := c.Call(ctx, "Debugger.removeBreakpoint", map[string]any{"breakpointId": id})
	return err
}

// Evaluate runs expr in the top call frame while paused, and in global
// scope otherwise. It returns the result RemoteObject.
func (c *Client) Evaluate(ctx context.Context, expr string) (gjson.Result, error) {
	var (
		res gjson.Result
		err error
	)
	if frame := c.Paused().Get("callFrames.0.callFrameId"); frame.Exists() {
		res, err = c.Call(ctx, "Debugger.evaluateOnCallFrame", map[string]any{
			"callFrameId": frame.String(),
			"expression":  expr,
		})
	} else {
		res, err = c.Call(ctx, "Runtime.evaluate", map[string]any{"expression": expr})
	}
	if err != nil {
		return gjson.Result{}, err
	}
	if ex := res.Get("exceptionDetails"); ex.Exists() {
		return gjson.Result{}, errors.New(ex.Get("text").String())
	}
	return res.Get("result"), nil
}

func (c *Client) ScriptSource(ctx context.Context, scriptID string) (string, error) {
	res, err := c.Call(ctx, "Debugger.getScriptSource", map[string]any{"scriptId": scriptID})
	if err != nil {
		return "", err
	}
	return res.Get("scriptSource").String(), nil
}

// Render formats a RemoteObject for display.
func Render(obj gjson.Result) string {
	switch obj.Get("type").String() {
	case "string":
		return fmt.Sprintf("%q", obj.Get("value").String())
	case "undefined":
		return "undefined"
	}
	if v := obj.Get("value"); v.Exists() {
		return v.Raw
	}
	if d := obj.Get("description"); d.Exists() {
		return d.String()
	}
	return obj.Get("type").String()
}

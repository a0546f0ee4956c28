package translate

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/stringbuf"
)

// ScriptInfo is the protocol view of a loaded script.
type ScriptInfo struct {
	ScriptID         stringbuf.String16
	URL              stringbuf.String16
	SourceURL        stringbuf.String16
	SourceMappingURL stringbuf.String16
	// Source is decoded from the engine's UTF-8 text; invalid bytes become
	// U+FFFD, so non-UTF-8 sources do not round-trip.
	Source           stringbuf.String16
	StartLine        int
	StartColumn      int
	EndLine          int
	EndColumn        int
	Hash             string
	IsLiveEdit       bool
}

// ScriptParsed is the params payload of Debugger.scriptParsed.
type ScriptParsed struct {
	ScriptID           stringbuf.String16 `json:"scriptId"`
	URL                stringbuf.String16 `json:"url"`
	StartLine          int                `json:"startLine"`
	StartColumn        int                `json:"startColumn"`
	EndLine            int                `json:"endLine"`
	EndColumn          int                `json:"endColumn"`
	ExecutionContextID int                `json:"executionContextId"`
	Hash               string             `json:"hash"`
	IsLiveEdit         bool               `json:"isLiveEdit,omitempty"`
	SourceMapURL       string             `json:"sourceMapURL,omitempty"`
	HasSourceURL       bool               `json:"hasSourceURL,omitempty"`
}

// ScriptParsed returns the notification params for s.
func (s ScriptInfo) ScriptParsed(contextID int) ScriptParsed {
	return ScriptParsed{
		ScriptID:           s.ScriptID,
		URL:                s.URL,
		StartLine:          s.StartLine,
		StartColumn:        s.StartColumn,
		EndLine:            s.EndLine,
		EndColumn:          s.EndColumn,
		ExecutionContextID: contextID,
		Hash:               s.Hash,
		IsLiveEdit:         s.IsLiveEdit,
		SourceMapURL:       s.SourceMappingURL.String(),
		HasSourceURL:       !s.SourceURL.IsEmpty(),
	}
}

// ScriptID reads the numeric id of a script record.
func ScriptID(rec debuggee.Record) (int, error) {
	return debuggee.GetInt(rec, debuggee.PropScriptID)
}

// ScriptToScriptInfo reads a script record and its source. A script the
// engine no longer knows fails with an error wrapping debuggee.ErrNotFound.
func ScriptToScriptInfo(d debuggee.Debuggee, rec debuggee.Record) (ScriptInfo, error) {
	id, err := ScriptID(rec)
	if err != nil {
		return ScriptInfo{}, err
	}
	url, err := ScriptURL(rec)
	if err != nil {
		return ScriptInfo{}, err
	}
	lineCount, err := debuggee.GetInt(rec, debuggee.PropLineCount)
	if err != nil {
		return ScriptInfo{}, err
	}

	srcRec, err := d.ScriptSource(id)
	if err != nil {
		return ScriptInfo{}, fmt.Errorf("failed to get source of script %d: %w", id, err)
	}
	src, err := debuggee.GetString(srcRec, debuggee.PropSource)
	if err != nil {
		return ScriptInfo{}, err
	}
	source := stringbuf.FromString(src)

	info := ScriptInfo{
		ScriptID: stringbuf.FromInt(id),
		URL:      stringbuf.FromString(url),
		Source:   source,
		EndLine:  lineCount,
		Hash:     strconv.FormatUint(source.Hash(), 16),
	}
	if v, ok := rec.Property(debuggee.PropSourceMapURL); ok && v.Kind == debuggee.KindString {
		info.SourceMappingURL = stringbuf.FromString(v.Str)
	}
	return info, nil
}

// ScriptURL prefers the file name and falls back to the engine's script type
// tag. Both being absent yields an empty url.
// TODO: report scriptType separately once clients stop keying scripts by url.
func ScriptURL(rec debuggee.Record) (string, error) {
	for _, name := range []string{debuggee.PropFileName, debuggee.PropScriptType} {
		url, err := debuggee.GetString(rec, name)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, debuggee.ErrMissingProperty) {
			return "", err
		}
	}
	return "", nil
}

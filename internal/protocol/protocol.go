// Package protocol defines the command, response and notification envelopes
// exchanged with a remote client, and the error taxonomy reported on the wire.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Command is one client call, parsed from a raw payload.
type Command struct {
	ID     *int64
	Domain string
	Method string
	Params json.RawMessage
}

// Name returns the dotted "Domain.method" form.
func (c Command) Name() string {
	return c.Domain + "." + c.Method
}

// Response answers exactly one Command.
type Response struct {
	ID     *int64
	Result any
	Error  *Error
}

// Notification is an unsolicited message with no id.
type Notification struct {
	Domain string
	Method string
	Params any
}

func (n Notification) Name() string {
	return n.Domain + "." + n.Method
}

type wireCommand struct {
	ID     *json.Number    `json:"id"`
	Method string          `json:"method"`
	Domain string          `json:"domain"`
	Params json.RawMessage `json:"params"`
}

type wireResponse struct {
	ID     *int64 `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

type wireNotification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

// ParseCommand validates and decodes raw. On failure the returned error is a
// *Failure carrying whatever id could still be recovered from the text.
func ParseCommand(raw string) (Command, error) {
	var w wireCommand
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Command{}, &Failure{
			ID:  recoverID(raw),
			Err: Errorf(CodeParseError, "Message must be a valid JSON object: %v", err),
		}
	}
	if dec.More() {
		return Command{}, &Failure{
			ID:  recoverID(raw),
			Err: Errorf(CodeParseError, "Message must contain a single JSON value"),
		}
	}

	if w.ID == nil {
		return Command{}, &Failure{Err: Errorf(CodeInvalidRequest, "Message must have integer 'id' property")}
	}
	id, err := w.ID.Int64()
	if err != nil {
		return Command{}, &Failure{Err: Errorf(CodeInvalidRequest, "Message must have integer 'id' property")}
	}

	domain, method := w.Domain, w.Method
	if dot := strings.IndexByte(method, '.'); dot >= 0 {
		domain, method = method[:dot], method[dot+1:]
	}
	if domain == "" || method == "" {
		return Command{}, &Failure{ID: &id, Err: Errorf(CodeInvalidRequest, "Message must have string 'method' property")}
	}

	params := bytes.TrimSpace(w.Params)
	if len(params) > 0 && !bytes.Equal(params, []byte("null")) && params[0] != '{' {
		return Command{}, &Failure{ID: &id, Err: Errorf(CodeInvalidRequest, "Message 'params' property must be an object")}
	}

	return Command{ID: &id, Domain: domain, Method: method, Params: json.RawMessage(params)}, nil
}

// recoverID extracts an integer "id" from text that may not be valid JSON.
func recoverID(raw string) *int64 {
	r := gjson.Get(raw, "id")
	if r.Type != gjson.Number {
		return nil
	}
	if float64(r.Int()) != r.Num {
		return nil
	}
	id := r.Int()
	return &id
}

// EncodeResponse renders r. A successful response without a result carries an
// empty result object.
func EncodeResponse(r Response) (string, error) {
	w := wireResponse{ID: r.ID, Error: r.Error}
	if r.Error == nil {
		w.Result = r.Result
		if w.Result == nil {
			w.Result = emptyObject
		}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return string(data), nil
}

func EncodeNotification(n Notification) (string, error) {
	data, err := json.Marshal(wireNotification{Method: n.Name(), Params: n.Params})
	if err != nil {
		return "", fmt.Errorf("encode notification %s: %w", n.Name(), err)
	}
	return string(data), nil
}

// DecodeParams unmarshals a command's params into v. Absent params leave v
// untouched. Failures are reported as invalid params.
func DecodeParams(c Command, v any) error {
	if len(c.Params) == 0 || bytes.Equal(c.Params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(c.Params, v); err != nil {
		return Errorf(CodeInvalidParams, "Invalid parameters: %v", err)
	}
	return nil
}

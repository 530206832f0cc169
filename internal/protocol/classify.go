// Package protocol parses the line-oriented stream emitted by the job
// generator process.
//
// Each non-empty line is exactly one of, checked in this order:
//
//	push_file: <bucket>,<filename>   async upload request
//	error_messages: <text>           pass-through diagnostic
//	set_queue: <name>                switch the active output queue
//	anything else                    a task payload (JSON, possibly quoted)
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrProtocol indicates an unparseable stream line. It is fatal for the run.
// Use errors.Is() to check for it in calling code.
var ErrProtocol = errors.New("protocol error")

// Kind classifies one stream line.
type Kind int

const (
	KindTask Kind = iota
	KindPushFile
	KindError
	KindSetQueue
)

const (
	pushFilePrefix = "push_file:"
	errorPrefix    = "error_messages:"
	setQueuePrefix = "set_queue:"
)

// Directive is one classified stream line. The populated fields depend on Kind.
type Directive struct {
	Kind Kind

	Bucket   string // KindPushFile
	Filename string // KindPushFile
	Message  string // KindError
	Queue    string // KindSetQueue
	Task     []byte // KindTask, unwrapped JSON
}

// Classify parses a single non-empty line. Directive prefixes take precedence
// over task classification, in the order push_file, error_messages, set_queue.
func Classify(line string) (Directive, error) {
	if rest, ok := strings.CutPrefix(line, pushFilePrefix); ok {
		bucket, filename, found := strings.Cut(strings.TrimSpace(rest), ",")
		bucket = strings.TrimSpace(bucket)
		filename = strings.TrimSpace(filename)
		if !found || bucket == "" || filename == "" {
			return Directive{}, fmt.Errorf("%w: malformed push_file directive %q", ErrProtocol, line)
		}
		return Directive{Kind: KindPushFile, Bucket: bucket, Filename: filename}, nil
	}

	if rest, ok := strings.CutPrefix(line, errorPrefix); ok {
		return Directive{Kind: KindError, Message: strings.TrimSpace(rest)}, nil
	}

	if rest, ok := strings.CutPrefix(line, setQueuePrefix); ok {
		name := strings.TrimSpace(rest)
		if name == "" {
			return Directive{}, fmt.Errorf("%w: set_queue directive without a queue name", ErrProtocol)
		}
		return Directive{Kind: KindSetQueue, Queue: name}, nil
	}

	task, err := unwrapTask(line)
	if err != nil {
		return Directive{}, err
	}
	return Directive{Kind: KindTask, Task: task}, nil
}

// unwrapTask reverses the quoting generators apply when printing a task as a
// string literal, then verifies the payload parses as JSON.
func unwrapTask(line string) ([]byte, error) {
	text := line
	if len(text) >= 2 {
		switch {
		case text[0] == '"' && text[len(text)-1] == '"':
			unquoted, err := strconv.Unquote(text)
			if err == nil {
				text = unquoted
			}
		case text[0] == '\'' && text[len(text)-1] == '\'':
			text = text[1 : len(text)-1]
		}
	}

	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: line is neither a directive nor valid task JSON: %q", ErrProtocol, line)
	}
	return []byte(text), nil
}

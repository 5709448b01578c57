// Package ipc implements the control socket: a local unix socket carrying one
// newline-terminated JSON command per connection.
package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every decode and validation error.
var ErrMalformed = errors.New("malformed command")

// Wire tags of the externally tagged command union.
const (
	TagSetURL  = "SetUrl"
	TagSetPath = "SetPath"
)

// Command is a tagged union: exactly one of SetURL and SetPath is set.
type Command struct {
	SetURL  *SetURL  `json:"SetUrl,omitempty"`
	SetPath *SetPath `json:"SetPath,omitempty"`
}

// SetURL displays a remote URL. A nil Monitor targets every known connector.
type SetURL struct {
	Monitor *string `json:"monitor"`
	URL     string  `json:"url"`
}

// SetPath displays a local filesystem path. A nil Monitor targets every known
// connector.
type SetPath struct {
	Monitor *string `json:"monitor"`
	Path    string  `json:"path"`
}

func (s *SetURL) UnmarshalJSON(data []byte) error {
	var raw struct {
		Monitor *string `json:"monitor"`
		URL     *string `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.URL == nil {
		return fmt.Errorf("%s: missing field %q", TagSetURL, "url")
	}
	s.Monitor, s.URL = raw.Monitor, *raw.URL
	return nil
}

func (s *SetPath) UnmarshalJSON(data []byte) error {
	var raw struct {
		Monitor *string `json:"monitor"`
		Path    *string `json:"path"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Path == nil {
		return fmt.Errorf("%s: missing field %q", TagSetPath, "path")
	}
	s.Monitor, s.Path = raw.Monitor, *raw.Path
	return nil
}

// NewSetURL builds a SetUrl command. An empty monitor targets every
// connector.
func NewSetURL(monitor, url string) Command {
	return Command{SetURL: &SetURL{Monitor: optional(monitor), URL: url}}
}

// NewSetPath builds a SetPath command. An empty monitor targets every
// connector.
func NewSetPath(monitor, path string) Command {
	return Command{SetPath: &SetPath{Monitor: optional(monitor), Path: path}}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Kind names the command variant for logs and metrics.
func (c Command) Kind() string {
	switch {
	case c.SetURL != nil:
		return "set_url"
	case c.SetPath != nil:
		return "set_path"
	default:
		return "unknown"
	}
}

// Monitor returns the targeted connector, or "" for a broadcast.
func (c Command) Monitor() string {
	var m *string
	switch {
	case c.SetURL != nil:
		m = c.SetURL.Monitor
	case c.SetPath != nil:
		m = c.SetPath.Monitor
	}
	if m == nil {
		return ""
	}
	return *m
}

// Broadcast reports whether the command targets every known connector.
func (c Command) Broadcast() bool {
	return c.Monitor() == ""
}

// Validate checks that exactly one variant is set and its required field is
// non-empty.
func (c Command) Validate() error {
	switch {
	case c.SetURL != nil && c.SetPath != nil:
		return fmt.Errorf("%w: more than one command tag", ErrMalformed)
	case c.SetURL != nil:
		if c.SetURL.URL == "" {
			return fmt.Errorf("%w: %s with empty url", ErrMalformed, TagSetURL)
		}
		// An absent monitor broadcasts. An empty name would target no connector.
		if m := c.SetURL.Monitor; m != nil && *m == "" {
			return fmt.Errorf("%w: %s with empty monitor", ErrMalformed, TagSetURL)
		}
	case c.SetPath != nil:
		if c.SetPath.Path == "" {
			return fmt.Errorf("%w: %s with empty path", ErrMalformed, TagSetPath)
		}
		// Same rule as set_url.
		if m := c.SetPath.Monitor; m != nil && *m == "" {
			return fmt.Errorf("%w: %s with empty monitor", ErrMalformed, TagSetPath)
		}
	default:
		return fmt.Errorf("%w: no command tag", ErrMalformed)
	}
	return nil
}

// Decode parses one wire message. Surrounding whitespace, including the
// trailing newline, is ignored. Unknown tags are rejected.
func Decode(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	var tags map[string]json.RawMessage
	if err := json.Unmarshal(line, &tags); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(tags) != 1 {
		return Command{}, fmt.Errorf("%w: want exactly one command tag, got %d", ErrMalformed, len(tags))
	}

	var cmd Command
	for tag, body := range tags {
		var err error
		switch tag {
		case TagSetURL:
			cmd.SetURL = new(SetURL)
			err = json.Unmarshal(body, cmd.SetURL)
		case TagSetPath:
			cmd.SetPath = new(SetPath)
			err = json.Unmarshal(body, cmd.SetPath)
		default:
			return Command{}, fmt.Errorf("%w: unknown command %q", ErrMalformed, tag)
		}
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Encode renders cmd as a single wire message including the trailing newline.
func Encode(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind says what a connector is currently displaying.
type Kind int

const (
	None Kind = iota
	URL
	Path
)

var kindNames = map[Kind]string{
	None: "none",
	URL:  "url",
	Path: "path",
}

var kindFromName = map[string]Kind{
	"none": None,
	"url":  URL,
	"path": Path,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := kindFromName[s]
	if !ok {
		return fmt.Errorf("unknown reference kind %q", s)
	}
	*k = v
	return nil
}

// Reference is the content a connector displays. For Path references,
// Address is the lease server URL the renderer loads.
type Reference struct {
	Kind    Kind   `json:"kind"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
	Address string `json:"address,omitempty"`
}

func URLReference(url string) Reference {
	return Reference{Kind: URL, URL: url}
}

func PathReference(path, address string) Reference {
	return Reference{Kind: Path, Path: path, Address: address}
}

// Target is the address handed to the renderer.
func (r Reference) Target() string {
	switch r.Kind {
	case URL:
		return r.URL
	case Path:
		return r.Address
	}
	return ""
}

// IsLocal reports whether the reference holds a lease on a local path.
func (r Reference) IsLocal() bool {
	return r.Kind == Path
}

func (r Reference) String() string {
	switch r.Kind {
	case URL:
		return "url:" + r.URL
	case Path:
		return "path:" + r.Path
	}
	return "none"
}

// Entry is the per-connector session record.
type Entry struct {
	Connector string    `json:"connector"`
	Reference Reference `json:"reference"`
	UpdatedAt time.Time `json:"updatedAt"`
	Revision  int       `json:"revision"`
}

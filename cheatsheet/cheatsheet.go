// Package cheatsheet serves the content of a static document file, used
// to inject reference material into a session on demand.
package cheatsheet

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/benchd/benchd/dispatch"
)

// Document is the served file content. A missing or unconfigured path is
// reported in-band: Success=false with an explanatory Content.
type Document struct {
	Content  string `json:"content"`
	Success  bool   `json:"success"`
	FilePath string `json:"file_path,omitempty"`
}

// Source reads one document file per request, so edits to the file are
// visible without a restart.
type Source struct {
	Path string
	log  *zap.SugaredLogger
}

type Option func(s *Source)

func WithLogger(l *zap.Logger) Option {
	return func(s *Source) {
		s.log = l.Named("cheatsheet").Sugar()
	}
}

func NewSource(path string, opts ...Option) *Source {
	s := &Source{Path: path, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get reads the document.
func (s *Source) Get() Document {
	if s.Path == "" {
		return Document{Content: "Cheatsheet path not configured"}
	}

	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{Content: fmt.Sprintf("Cheatsheet file not found at %s", s.Path)}
		}
		s.log.Debugf("error reading cheatsheet: %s", err)
		return Document{Content: fmt.Sprintf("Error reading cheatsheet: %s", err)}
	}

	return Document{Content: string(b), Success: true, FilePath: s.Path}
}

// Handlers returns the method table for a cheatsheet deployment.
func (s *Source) Handlers() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"get_cheatsheet": func(ctx context.Context, params dispatch.Params) (any, error) {
			return s.Get(), nil
		},
	}
}

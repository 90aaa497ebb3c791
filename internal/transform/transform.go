// Package transform implements the pure option transformer: translating a
// canonical request into a backend-specific invocation by rewriting
// attachments and prompt according to the target backend's file-handling
// capability. It holds no state: a single declarative rule per file mode
// replaces what would otherwise be hardcoded per-backend flag logic.
package transform

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
	"github.com/unitai-dev/unitai-core/internal/registry"
)

// Transformer translates requests against a backend registry.
type Transformer struct {
	reg *registry.Registry
	log *slog.Logger
}

// New returns a Transformer bound to reg.
func New(reg *registry.Registry, log *slog.Logger) *Transformer {
	if log == nil {
		log = slog.Default()
	}
	return &Transformer{reg: reg, log: log}
}

// Transform maps req onto targetID per spec: cli-flag backends keep
// attachments untouched; embed-in-prompt and none backends fold the
// attachment list into the prompt and clear it. The transformer never
// inspects the existing prompt text, so re-transforming an already-embedded
// request for a cli-flag target does not re-parse or duplicate anything —
// it only ever prepends to, never scans, the prompt.
func (t *Transformer) Transform(req corereq.Request, targetID corereq.BackendID) (corereq.Request, error) {
	desc, ok := t.reg.Get(targetID)
	if !ok {
		return corereq.Request{}, corerrors.New(corerrors.ErrorTypeUnknownBackend, "transform", string(targetID)).WithBackend(string(targetID))
	}

	out := req.Clone()
	out.BackendID = targetID

	if len(out.Attachments) == 0 {
		return out, nil
	}

	switch desc.FileMode {
	case corereq.FileModeCLIFlag:
		// Pass through unchanged.
		return out, nil
	case corereq.FileModeEmbedInPrompt, corereq.FileModeNone:
		out.Prompt = fmt.Sprintf("[Files to analyze: %s]\n\n%s", strings.Join(out.Attachments, ", "), out.Prompt)
		out.Attachments = nil
		if desc.FileMode == corereq.FileModeNone {
			t.log.Warn("target backend has no file support; attachments embedded in prompt",
				slog.String("backend", string(targetID)))
		}
		return out, nil
	default:
		return out, nil
	}
}

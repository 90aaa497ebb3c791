package subprocess

import (
	"path/filepath"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
	"github.com/unitai-dev/unitai-core/internal/registry"
)

// BuildArgv constructs the argv for invoking desc with req: option handling lives
// in the transformer and here, not in one hand-written class per backend.
// req must already have been passed through transform.Transform for desc's
// id — this function does not rewrite attachments into the prompt itself.
// Attachment paths reaching here are expected to already have been
// path-validated upstream (existence, within project root, size limit); this
// function only refuses a relative path, since the executor process may run
// with a different working directory than the caller assumed.
func BuildArgv(desc registry.Descriptor, req corereq.Request) ([]string, error) {
	argv := append([]string(nil), desc.Args...)
	argv = append(argv, "--prompt", req.Prompt)

	if req.OutputFormat != "" && desc.SupportsOutputFormat != corereq.OutputFormatNeither {
		argv = append(argv, "--output-format", req.OutputFormat)
	}

	if desc.FileMode == corereq.FileModeCLIFlag {
		for _, a := range req.Attachments {
			if !filepath.IsAbs(a) {
				return nil, corerrors.New(corerrors.ErrorTypeInvalidConfig, "subprocess.buildArgv", "attachment path must be absolute: "+a)
			}
			argv = append(argv, "--file", a)
		}
	}

	if req.AutoApprove && desc.AcceptsAutoApprove {
		argv = append(argv, "--auto-approve")
	}

	return argv, nil
}

// BuildOptions returns the subprocess.Options derived from req and desc's
// default timeout, honoring a workflow-level override when nonzero.
// onHeartbeat, if non-nil, is invoked on the heartbeat interval whenever no
// output has arrived within HeartbeatTimeout.
func BuildOptions(desc registry.Descriptor, req corereq.Request, timeoutOverrideMs int, onHeartbeat func(Heartbeat)) Options {
	timeout := desc.DefaultTimeoutMs
	if timeoutOverrideMs > 0 {
		timeout = timeoutOverrideMs
	}
	return Options{
		TimeoutMs:    timeout,
		WorkingDir:   req.WorkingDir,
		ProgressSink: req.ProgressSink,
		OnHeartbeat:  onHeartbeat,
	}
}

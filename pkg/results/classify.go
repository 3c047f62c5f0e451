package results

import (
	"context"
	"errors"

	"github.com/acarl005/stripansi"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
	"github.com/softwarewrighter/ui-test/pkg/process"
	"github.com/softwarewrighter/ui-test/pkg/protocol"
	"github.com/softwarewrighter/ui-test/pkg/wire"
)

// Suggestions attached to diagnostics.
const (
	SuggestScreenshot = "take a screenshot to debug (ui-test repl shows the live accessibility tree)"
	SuggestTimeout    = "increase --timeout or check that the page finishes loading"
	SuggestServer     = "the automation server went away; rerun with --verbose to see its stderr"
	SuggestRemote     = "the automation server rejected the command; check the URL or element state"
	SuggestSpawn      = "check that the server command is installed (default: npx @playwright/mcp@latest)"
	SuggestVerbose    = "rerun with --verbose to see the full error and the server log"
)

// Classified is implemented by errors that know their own result status,
// such as assertion failures.
type Classified interface {
	error
	ResultStatus() (Status, ErrorKind)
}

// Classification is how an error maps onto a result.
type Classification struct {
	Status     Status
	Kind       ErrorKind
	Suggestion string
	Fatal      bool
}

// Classify maps an error from a test run onto a status. A nil error passes.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Status: StatusPassed}
	}

	var nf *a11y.ElementNotFound
	if errors.As(err, &nf) {
		return Classification{Status: StatusFailed, Kind: KindNotFound, Suggestion: SuggestScreenshot}
	}
	var cl Classified
	if errors.As(err, &cl) {
		status, kind := cl.ResultStatus()
		suggestion := SuggestScreenshot
		if kind == KindTimeout {
			suggestion = SuggestTimeout
		}
		return Classification{Status: status, Kind: kind, Suggestion: suggestion}
	}
	var spawn *process.SpawnError
	if errors.As(err, &spawn) {
		return Classification{Status: StatusError, Kind: KindProtocol, Suggestion: SuggestSpawn, Fatal: true}
	}
	if errors.Is(err, protocol.ErrConnectionClosed) {
		return Classification{Status: StatusError, Kind: KindProtocol, Suggestion: SuggestServer, Fatal: true}
	}
	if errors.Is(err, protocol.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Status: StatusError, Kind: KindTimeout, Suggestion: SuggestTimeout}
	}
	var remote *wire.RemoteError
	if errors.As(err, &remote) {
		return Classification{Status: StatusError, Kind: KindProtocol, Suggestion: SuggestRemote}
	}
	return Classification{Status: StatusError, Kind: KindProtocol, Suggestion: SuggestVerbose}
}

// Message renders err for a diagnostic, without terminal escapes.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return stripansi.Strip(err.Error())
}

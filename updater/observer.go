package updater

import "context"

// Observer receives per-tool results as the loop runs and the finished report
// once the run ends. Implementations must not retain the manifest.
type Observer interface {
	ObserveResult(ctx context.Context, runID string, result Result)
	ObserveRun(ctx context.Context, report Report)
}

type noopObserver struct{}

func (noopObserver) ObserveResult(context.Context, string, Result) {}
func (noopObserver) ObserveRun(context.Context, Report)            {}

type multiObserver []Observer

func (m multiObserver) ObserveResult(ctx context.Context, runID string, result Result) {
	for _, observer := range m {
		observer.ObserveResult(ctx, runID, result)
	}
}

func (m multiObserver) ObserveRun(ctx context.Context, report Report) {
	for _, observer := range m {
		observer.ObserveRun(ctx, report)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(list ...Observer) Observer {
	out := make(multiObserver, 0, len(list))
	for _, observer := range list {
		if observer != nil {
			out = append(out, observer)
		}
	}
	switch len(out) {
	case 0:
		return noopObserver{}
	case 1:
		return out[0]
	default:
		return out
	}
}

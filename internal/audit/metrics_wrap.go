package audit

import "context"

// MetricsHook is called once per audited event, with its action name.
type MetricsHook func(action string)

// metricsWrappedAuditor decorates an Auditor with a counter hook, so every
// sink (stdout, async, sqlite, multi) gets the same audit-volume metric
// without duplicating the increment at each call site.
type metricsWrappedAuditor struct {
	next Auditor
	hook MetricsHook
}

// WrapWithMetrics returns an Auditor that forwards every event to next
// after invoking hook with the event's action name.
func WrapWithMetrics(next Auditor, hook MetricsHook) Auditor {
	return &metricsWrappedAuditor{next: next, hook: hook}
}

func (w *metricsWrappedAuditor) Event(ctx context.Context, action, actor, object string, details map[string]any) {
	if w.hook != nil {
		w.hook(action)
	}
	w.next.Event(ctx, action, actor, object, details)
}

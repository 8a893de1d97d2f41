package hook

// BaseHook carries the priority every Pluggable needs for chain ordering.
// Embed it in a concrete hook type and implement only the extension-point
// interfaces that hook cares about; the rest are skipped by Chain's type
// assertions at no cost, the static-typing equivalent of run_hook's hasattr
// probe.
type BaseHook struct {
	priority float64
}

// NewBaseHook constructs a BaseHook with the given chain priority (lower
// runs first).
func NewBaseHook(priority float64) BaseHook {
	return BaseHook{priority: priority}
}

// Priority implements Pluggable.
func (b BaseHook) Priority() float64 { return b.priority }

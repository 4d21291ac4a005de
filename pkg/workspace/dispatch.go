package workspace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Kind tells the dispatcher what an operation needs from origin.
type Kind int

const (
	// ReadOnly operations read the freshest state: they fetch first unless
	// a sync scope already did.
	ReadOnly Kind = iota
	// Mutating operations fetch like ReadOnly ones and publish to origin
	// before returning.
	Mutating
	// LocalOnly operations work on local state and never fetch on their
	// own; a first use still clones.
	LocalOnly
	// Refresh operations fetch even inside a sync scope, except on the
	// call that cloned.
	Refresh
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "readonly"
	case Mutating:
		return "mutating"
	case LocalOnly:
		return "local"
	case Refresh:
		return "refresh"
	default:
		return "unknown"
	}
}

type operation struct {
	name string
	kind Kind
}

var (
	opEnsureReady      = operation{"ensure_ready", ReadOnly}
	opFetch            = operation{"fetch", Refresh}
	opPush             = operation{"push", LocalOnly}
	opList             = operation{"list", ReadOnly}
	opLog              = operation{"log", ReadOnly}
	opRead             = operation{"read", ReadOnly}
	opReadAll          = operation{"read_all", ReadOnly}
	opWrite            = operation{"write", Mutating}
	opWriteMany        = operation{"write_many", Mutating}
	opDelete           = operation{"delete", Mutating}
	opCreateBranch     = operation{"create_branch", Mutating}
	opDeleteBranch     = operation{"delete_branch", Mutating}
	opMergeAnalysis    = operation{"merge_analysis", LocalOnly}
	opMergeBranch      = operation{"merge_branch", Mutating}
	opMergePreview     = operation{"merge_preview", ReadOnly}
	opWriteMergeBranch = operation{"write_merge_branch", Mutating}
	opBranches         = operation{"branches", ReadOnly}
	opResolveCommit    = operation{"resolve_commit", LocalOnly}
	opDiff             = operation{"diff", ReadOnly}
	opShow             = operation{"show", ReadOnly}
	opReflog           = operation{"reflog", LocalOnly}
)

type scopeKey struct{}

// inSyncScope reports whether ctx carries a sync scope opened on w.
func (w *Workspace) inSyncScope(ctx context.Context) bool {
	scoped, _ := ctx.Value(scopeKey{}).(*Workspace)
	return scoped == w
}

// Sync runs fn inside a sync scope: origin is fetched once up front and
// operations called with the ctx handed to fn skip their own fetch. Nested
// scopes on the same workspace reuse the outer fetch.
func (w *Workspace) Sync(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.inSyncScope(ctx) {
		return fn(ctx)
	}
	if err := w.run(ctx, opEnsureReady, func(context.Context) error { return nil }); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, scopeKey{}, w))
}

// run is the single entry point of every public operation. It traces the
// call, brings the clone to Ready, fetches when op needs it, runs fn under
// the workspace lock and records the outcome.
func (w *Workspace) run(ctx context.Context, op operation, fn func(ctx context.Context) error) error {
	ctx, span := w.tracer.Start(ctx, "workspace."+op.name, trace.WithAttributes(
		attribute.String("docstore.workspace", w.name),
		attribute.String("docstore.op.kind", op.kind.String()),
	))
	defer span.End()

	start := time.Now()
	err := w.dispatch(ctx, op, fn)
	elapsed := time.Since(start)

	w.metrics.ObserveOperation(w.name, op.name, op.kind.String(), err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Warn("operation failed", "op", op.name, "duration", elapsed, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	w.logger.Debug("operation complete", "op", op.name, "duration", elapsed)
	return nil
}

func (w *Workspace) dispatch(ctx context.Context, op operation, fn func(ctx context.Context) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cloned, err := w.open(ctx)
	if err != nil {
		return err
	}
	if !cloned && (op.kind == Refresh || op.kind != LocalOnly && !w.inSyncScope(ctx)) {
		if err := w.fetch(ctx); err != nil {
			return err
		}
	}
	return fn(ctx)
}

package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/video"
)

// ErrorPolicy decides, per entry, whether a failed operation is fatal.
// Cancellation always unwinds untouched. Unsupported entries escalate
// immediately. Everything else is recorded on the entry and escalated
// only when the entry's resolver classifies it as critical.
type ErrorPolicy struct {
	entry    *domain.Entry
	resolver domain.EntryResolver
}

// NewErrorPolicy matches the entry against the resolver chain. A nil
// result from the chain leaves the policy in the unsupported state,
// where every failure escalates.
func NewErrorPolicy(entry *domain.Entry, chain []domain.EntryResolver) *ErrorPolicy {
	return &ErrorPolicy{entry: entry, resolver: domain.ResolverFor(chain, entry)}
}

// Resolver returns the matched content-type strategy, nil when the
// entry is unsupported.
func (p *ErrorPolicy) Resolver() domain.EntryResolver { return p.resolver }

// Supported reports whether any resolver recognized the entry.
func (p *ErrorPolicy) Supported() bool { return p.resolver != nil }

// Perform runs op and classifies its failure. A nil return means the
// pipeline may continue: either op succeeded or its error was recorded
// as recoverable.
func (p *ErrorPolicy) Perform(op func() error) error {
	if err := op(); err != nil {
		return p.classify(err)
	}
	return nil
}

// PerformWithFallback runs op; when op fails recoverably, fallback runs
// instead, typically substituting degraded content. A fallback failure
// is classified the same way.
func (p *ErrorPolicy) PerformWithFallback(op, fallback func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if cerr := p.classify(err); cerr != nil {
		return cerr
	}
	if fallback == nil {
		return nil
	}
	return p.Perform(fallback)
}

func (p *ErrorPolicy) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsCriticalFailure(err) {
		return err
	}
	if p.resolver == nil {
		p.entry.MarkUnsupported()
		return &CriticalError{Err: ErrUnsupported}
	}
	// Recognized-but-undownloadable platforms are recorded, never
	// escalated and never retried.
	if video.IsUnsupported(err) {
		p.entry.AppendError(err)
		return nil
	}

	p.entry.AppendError(err)
	if p.resolver.IsCritical(err) {
		return &CriticalError{Err: multierr.Combine(p.entry.Errs()...)}
	}
	return nil
}

// Diagnostic renders the entry's accumulated errors as a multi-line,
// human-readable report carrying the given build identifier.
func (p *ErrorPolicy) Diagnostic(build string, fatal bool) string {
	var b strings.Builder
	if build != "" {
		fmt.Fprintf(&b, "build: %s\n", build)
	}
	switch {
	case p.resolver == nil:
		b.WriteString("severity: unsupported\n")
	case fatal:
		b.WriteString("severity: critical\n")
	default:
		b.WriteString("severity: non-critical\n")
	}
	fmt.Fprintf(&b, "entry: %s\n", p.entry.Key())
	for _, err := range p.entry.Errs() {
		fmt.Fprintf(&b, "- %v\n", err)
	}
	return b.String()
}

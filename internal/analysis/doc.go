// Package analysis produces the summaries stored in knowledge artifacts.
//
// A Service analyzes single source files and synthesizes directory knowledge
// from the summaries of a directory's children. Three providers are available:
// Anthropic and OpenAI over their HTTP APIs, and an offline local provider that
// summarizes source outlines.
//
// # Basic Usage
//
//	svc, err := analysis.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	sum, err := svc.AnalyzeFile(ctx, analysis.FileRequest{
//	    Path:    "/src/pkg/a.py",
//	    RelPath: "pkg/a.py",
//	    Content: content,
//	})
//
// # Provider Selection
//
// NewFromEnv selects a provider based on environment variables:
//
//  1. If GOCONTEXT_KB_PROVIDER is set → use specified provider
//  2. Else if ANTHROPIC_API_KEY is set → use Anthropic
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → fallback to local provider (offline mode)
//
// # Caching and Limits
//
// Summaries are cached in an LRU keyed by a SHA-256 of the request, so
// identical input yields the identical summary within a process. Remote
// providers share one rate limiter across all workers, retry transient
// failures with exponential backoff, and bound every call with a timeout.
// Empty responses are returned as empty summaries and never cached; callers
// decide whether an empty summary is a failure.
package analysis

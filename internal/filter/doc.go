// ABOUTME: Package filter compiles a portable MongoDB-style operator tree into SQL and an in-process evaluator
// ABOUTME: Validate rejects malformed trees before CompileSQL, CompileNative, or Eval ever runs against one

package filter

// ABOUTME: Package membership implements the unified access decision procedures (may-join, may-invite, ...)
// ABOUTME: It holds no state of its own; every decision reads store.Store's access views or membership rows

package membership

// ABOUTME: Package facade is the composition-root API: validate, delegate, emit, respond
// ABOUTME: It is the only sanctioned external entry point into the core

package facade

// Package dcui provides small Discord UI helpers:
//   - A simple message builder with Discord-markdown formatting
//   - Embed construction helpers
//   - Rune-safe truncation within Discord's message limits
//
// Design goals:
//   - Ergonomic for plugins (one builder covers text + send options)
//   - Safe by default: user-supplied text is escaped against markdown injection
//   - Long preformatted blocks split into follow-up messages automatically
package dcui

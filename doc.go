// Package authl resolves a free-text identity (an email address, a profile
// URL, a WebFinger-style handle) to a confirmed canonical identity string
// through one of several pluggable verification mechanisms.
//
// An Authl instance coordinates the configured handlers: given an identity it
// canonicalizes it, selects the first handler that claims it, and drives the
// two-phase initiate/callback handshake through typed dispositions. The
// handler packages in this module (loopback, emailaddr, indieauth, fediverse,
// oidcauth) each implement one mechanism; applications may supply their own.
//
// The library produces a single verified-identity result per flow and hands
// off; it does not manage user accounts, sessions, or authorization.
package authl

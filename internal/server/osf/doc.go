// Package osf is a narrow client for the Open Science Framework REST API
// (https://developer.osf.io/). It covers only what the relay needs:
// creating a child node, listing a node's storage providers, deleting a
// node and reading the token owner's profile.
//
// Every request is rate limited, bounded by a per-request timeout and, when
// a token is supplied, authorized through [oauth2.StaticTokenSource].
// Failures wrap one of the common OSF sentinels so callers can classify
// them with errors.Is.
package osf

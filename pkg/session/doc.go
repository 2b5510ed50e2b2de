/*
Package session serializes access to workflow contexts.

A Manager gives each turn exclusive ownership of one session: a local mutex
per session ID (dropped when no turn holds it), an optional distributed lock
for multi-replica deployments, and a load-modify-save cycle around the caller's
function. Sessions whose stack empties are deleted; corrupted ones are reset.
*/
package session

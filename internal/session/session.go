// Package session tracks live participants. The Registry is the in-memory
// authority over who is connected, what they asked for and who they are
// paired with; Store mirrors per-address aggregate statistics to Redis.
package session

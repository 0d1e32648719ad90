// Package spotify implements the quota-aware fetch client for the Spotify
// Web API: client-credentials auth, minimum inter-request pacing, and a
// persisted cooldown deadline honored across process restarts.
package spotify

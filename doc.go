// Package rcon implements the Source RCON protocol described by Valve at
// https://developer.valvesoftware.com/wiki/Source_RCON_Protocol.
//
// It provides the binary packet codec, a Client that connects to an RCON
// server, authenticates and sends commands, and a Server that accepts
// connections, gates them behind a password and hands each command to a
// CommandHandler. Each accepted connection is served on its own goroutine.
package rcon

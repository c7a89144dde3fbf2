// Package inbound turns what a client sends while virtualized into signals.
//
// Decoder is an host.InboundTap that parses the serverbound movement family
// (position, position+rotation, rotation) and publishes MoveSignal and
// LookSignal values. A position+rotation packet yields a MoveSignal followed
// by a LookSignal. Packets from clients without a session, or speaking a
// protocol other than the one the decoder is built for, are ignored.
//
// Bridge connects host lifecycle events to the engine: it installs the
// decoder on login, tears everything down on disconnect and republishes chat
// and commands from sessioned clients.
package inbound

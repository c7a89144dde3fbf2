// Package servers defines virtual servers and the registry that owns them.
//
// A virtual server is a proxy-side-only destination: there is no backend
// process behind it, only bookkeeping describing which client protocol
// versions it accepts and which packet layout versions it may emit for each
// protocol version. Packet versions are range-checked (0..MaxInt32) here;
// whether a version names a buildable layout is the protocol package's
// concern.
//
// Capability model
//
//	Supported protocols : empty set means any protocol version is accepted
//	Packet matrix       : packet key -> protocol version -> PacketVersionRule
//	Absent packet key   : unrestricted for every protocol version
//	Present packet key  : a rule must exist for the exact protocol version
//
// Identity
//
// Server names are compared case-insensitively. Two Server values with the
// same normalized name are Equal, but the Registry refuses to hold both and
// identity checks elsewhere (session membership, Registry.Remove) use the
// pointer that was registered. Every Server also carries a generation that
// differs between launches of the same name.
package servers

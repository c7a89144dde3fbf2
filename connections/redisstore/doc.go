// Package redisstore implements connections.Storage on Redis so that session
// state lives outside the proxy process and can be inspected by other
// instances.
//
// Layout
//
//	<prefix>client:<uuid>           string  server reference (<key>#<generation>)
//	<prefix>server:<key>#<gen>      set     client uuids sessioned into that launch
//
// Redis holds server references, not server values. A reference is resolved
// back to *servers.Server through the local servers.Registry and only matches
// when the registered server carries the same generation, so a session
// recorded against an earlier launch of a name never attaches to a relaunch.
// Such sessions read as absent and are overwritten on the next Register.
//
// Example:
//
//	store, _ := redisstore.NewFromEnv(registry)
//	defer store.Close()
package redisstore

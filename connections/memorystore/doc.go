// Package memorystore provides an in-memory connections.Storage suitable for
// tests and single-proxy deployments. All state is discarded on process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Server identity   : pointer equality on *servers.Server
//	Concurrency       : safe (RWMutex)
//
// For deployments with several proxy instances prefer redisstore.
package memorystore

package memorystore

import (
	"testing"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/connections/storetest"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStorageTests(t, func(t *testing.T, _ *servers.Registry) connections.Storage {
		return New()
	})
}

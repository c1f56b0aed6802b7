// in replicate/interfaces.go
package replicate

import "github.com/vskvj3/geomys-list/internal/replicate/proto"

// ClusterNodeProvider defines methods needed from the cluster membership
type ClusterNodeProvider interface {
	GetFollowerNodes() map[int32]string
}

// PersistenceProvider defines an interface for persistence operations
type PersistenceProvider interface {
	LoadCommands() ([]*proto.Command, error)
}

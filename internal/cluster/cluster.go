package cluster

import (
	"sync"

	"github.com/vskvj3/geomys-list/internal/utils"
)

// Cluster tracks static leader/follower membership for one node
type Cluster struct {
	nodeID        int32
	leaderID      int32
	leaderAddress string
	nodes         map[int32]string
	mu            sync.Mutex
}

// NewCluster builds membership from the replication settings in config.
// A leader replicates to config.Followers; a follower knows only the leader.
// Without replication the node leads itself and has no followers.
func NewCluster(config *utils.Config) *Cluster {
	c := &Cluster{
		nodeID:        int32(config.NodeID),
		leaderID:      -1,
		leaderAddress: config.LeaderAddress,
		nodes:         make(map[int32]string),
	}
	if config.IsLeader || !config.Replication {
		c.leaderID = c.nodeID
	}
	if config.IsLeader && config.Replication {
		for id, addr := range config.Followers {
			if id != c.nodeID {
				c.nodes[id] = addr
			}
		}
	}
	return c
}

/***************************************************************
*                  ClusterInterface Methods                    *
***************************************************************/
// Get node id of current node
func (c *Cluster) GetNodeID() int32 {
	return c.nodeID
}

// IsLeader reports whether this node is the leader
func (c *Cluster) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderID == c.nodeID
}

// Get leader address
func (c *Cluster) GetLeaderAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderAddress
}

// GetFollowerNodes returns a copy of the follower address map
func (c *Cluster) GetFollowerNodes() map[int32]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := make(map[int32]string, len(c.nodes))
	for id, addr := range c.nodes {
		nodes[id] = addr
	}
	return nodes
}

package domain

// InstanceInfo is the heartbeat one service instance publishes for the cluster.
type InstanceInfo struct {
	InstanceID  string         `json:"instance_id"`
	Version     string         `json:"version"`
	Heartbeat   int64          `json:"heartbeat"`
	Connections int            `json:"connections"`
	Classes     map[string]int `json:"classes"`
}

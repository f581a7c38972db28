package kafka

import (
	"context"
	"fmt"
)

// Ping opens a short-lived admin connection and describes the cluster. No
// record is produced or consumed.
func (c *Connector) Ping(ctx context.Context) (map[string]any, error) {
	details := map[string]any{"brokers": c.conf.Brokers}
	if err := ctx.Err(); err != nil {
		return details, err
	}

	admin, err := ClusterAdminFactory(c.conf.Brokers, AdminSaramaConfig(c.conf))
	if err != nil {
		return details, fmt.Errorf("connect cluster admin: %w", err)
	}
	defer func() { _ = admin.Close() }()

	brokers, controllerID, err := admin.DescribeCluster()
	if err != nil {
		return details, fmt.Errorf("describe cluster: %w", err)
	}

	details["cluster_brokers"] = len(brokers)
	details["controller_id"] = controllerID
	return details, nil
}

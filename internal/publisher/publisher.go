// Package publisher holds the lifecycle event publishers: memory for tests
// and local runs, Google Cloud Pub/Sub and Kafka for deployments.
package publisher

// Keyed payloads supply a partition or ordering key.
type Keyed interface {
	PartitionKey() string
}

// KeyOf returns payload's key, or "" when it has none.
func KeyOf(payload any) string {
	if k, ok := payload.(Keyed); ok {
		return k.PartitionKey()
	}
	return ""
}

// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// SyncTask represents an asynchronous connector sync job.
type SyncTask struct {
	ConnectorID uint `json:"connector_id"`
	// Trigger 记录任务来源（api / scheduled），仅用于日志。
	Trigger string `json:"trigger"`
}

package domain

// WorkerState tracks a media worker in the pool.
type WorkerState string

const (
	WorkerIdle       WorkerState = "idle"
	WorkerRunning    WorkerState = "running"
	WorkerTerminated WorkerState = "terminated"
)

type WorkerInfo struct {
	ID    string      `json:"id"`
	State WorkerState `json:"state"`
}

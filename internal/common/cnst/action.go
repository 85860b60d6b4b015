package cnst

// ActionType represents a change published for a session directory record
type ActionType string

const (
	// ActionCreate is published when a session joins
	ActionCreate ActionType = "create"
	// ActionDelete is published when a session leaves or is removed
	ActionDelete ActionType = "delete"
)

// StoreType selects the session directory backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

func (s StoreType) String() string {
	return string(s)
}

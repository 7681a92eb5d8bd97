package bargain

const TopicBargainEvents = "bargain.events"

// Partition key = session_id so all events of one session keep their order.
func PartitionKey(sessionID string) []byte { return []byte(sessionID) }

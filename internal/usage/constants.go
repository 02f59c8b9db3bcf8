package usage

// BatchFlushThreshold is the number of entries that triggers an immediate flush.
// When the batch reaches this size, it's written to storage without waiting for the timer.
const BatchFlushThreshold = 100

// tableName is the SQL table and MongoDB collection holding entries.
const tableName = "chat_usage"

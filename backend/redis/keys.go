package redis

import (
	"fmt"
	"strconv"
	"strings"
)

func taskKey(keyPrefix string, taskID string) string {
	return fmt.Sprintf("%vtask:%v", keyPrefix, taskID)
}

// taskEventsKey returns the key of the stream holding the events of the given task
func taskEventsKey(keyPrefix string, taskID string) string {
	return fmt.Sprintf("%vtask-events:%v", keyPrefix, taskID)
}

// openTasksKey returns the key for the ZSET of open tasks. The score is the creation sequence number.
func openTasksKey(keyPrefix string) string {
	return keyPrefix + "tasks-open"
}

// processingTasksKey returns the key for the ZSET of claimed tasks. The score is the last heartbeat
// in unix milliseconds.
func processingTasksKey(keyPrefix string) string {
	return keyPrefix + "tasks-processing"
}

func taskSequenceKey(keyPrefix string) string {
	return keyPrefix + "task-seq"
}

func eventSequenceKey(keyPrefix string) string {
	return keyPrefix + "event-seq"
}

func eventStreamID(eventID int64) string {
	return fmt.Sprintf("0-%v", eventID)
}

func eventIDFromStreamID(id string) (int64, error) {
	_, seq, ok := strings.Cut(id, "-")
	if !ok {
		return 0, fmt.Errorf("invalid event stream id %q", id)
	}

	return strconv.ParseInt(seq, 10, 64)
}

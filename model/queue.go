package model

import (
	"fmt"
	"strconv"
)

// Priority selects a queue lane. Lower values are drained first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// Priorities lists every lane in precedence order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	return strconv.Itoa(int(p))
}

// Label names the lane: high, normal or low.
func (p Priority) Label() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "invalid"
}

// ParsePriority accepts the numeric lane or one of high, normal, low.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Priority(n).Valid() {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(n), nil
}

// QueueItem is one unit of indexing work: an archive-relative path.
type QueueItem struct {
	Priority Priority
	Payload  string
}

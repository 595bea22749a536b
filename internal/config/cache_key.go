package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamKey returns the cache key for an exam descriptor (duration, answer
// key). Descriptors are read on every submit and monitor poll but change
// rarely, so they are cached with a short TTL.
func (r *CacheKeyStruct) ExamKey(examID string) string {
	return fmt.Sprintf("exam:%s:descriptor", examID)
}

// ExamChannel returns the Redis PubSub channel for one exam's live events.
func (r *CacheKeyStruct) ExamChannel(examID string) string {
	return fmt.Sprintf("exam:%s", examID)
}

// MonitoringChannel returns the Redis PubSub channel for the global
// proctoring view. Every exam event is mirrored here.
func (r *CacheKeyStruct) MonitoringChannel() string {
	return "monitoring:all"
}

var CacheKey = NewCacheKeyStruct()

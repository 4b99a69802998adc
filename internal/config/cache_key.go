package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPayloadKey returns the cache key for an exam's full payload (questions included)
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ProctorChannel returns the Redis PubSub channel carrying live violations for an exam
func (r *CacheKeyStruct) ProctorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:proctor", examID)
}

// ActiveProctorSessionKey points at the proctoring session a student currently holds for an exam
func (r *CacheKeyStruct) ActiveProctorSessionKey(examID, studentID string) string {
	return fmt.Sprintf("student:%s:exam:%s:proctor_session", studentID, examID)
}

var CacheKey = NewCacheKeyStruct()

package codec

import (
	"fmt"
	"time"
)

// EncodeTask builds the payload sent to a system under test: the task id
// followed by the task data, both framed.
func EncodeTask(taskID string, data []byte) []byte {
	return WriteByteArrays(WriteString(taskID), data)
}

// DecodeTask is the inverse of EncodeTask.
func DecodeTask(payload []byte) (taskID string, data []byte, err error) {
	r := NewReader(payload)
	if taskID, err = r.ReadString(); err != nil {
		return "", nil, fmt.Errorf("task id: %w", err)
	}
	if data, err = r.ReadByteArray(); err != nil {
		return "", nil, fmt.Errorf("task data: %w", err)
	}
	return taskID, data, nil
}

// EncodeExpectedResponse builds the payload sent to the evaluation storage:
// the framed task id and expected response followed by an unframed 8 byte
// timestamp in milliseconds since the unix epoch.
func EncodeExpectedResponse(taskID string, timestamp time.Time, expected []byte) []byte {
	framed := WriteByteArrays(WriteString(taskID), expected)
	return append(framed, WriteLong(timestamp.UnixMilli())...)
}

// DecodeExpectedResponse is the inverse of EncodeExpectedResponse.
func DecodeExpectedResponse(payload []byte) (taskID string, timestamp time.Time, expected []byte, err error) {
	r := NewReader(payload)
	if taskID, err = r.ReadString(); err != nil {
		return "", time.Time{}, nil, fmt.Errorf("task id: %w", err)
	}
	if expected, err = r.ReadByteArray(); err != nil {
		return "", time.Time{}, nil, fmt.Errorf("expected response: %w", err)
	}
	var ms int64
	if ms, err = r.ReadLong(); err != nil {
		return "", time.Time{}, nil, fmt.Errorf("timestamp: %w", err)
	}
	return taskID, time.UnixMilli(ms), expected, nil
}

package queue

import (
	"encoding/json"

	"github.com/paytrack-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskConversionDispatch 转化上报任务
	TaskConversionDispatch = constants.TaskConversionDispatch
)

// ConversionDispatchPayload 转化上报任务载荷
type ConversionDispatchPayload struct {
	DonationID      uint   `json:"donation_id"`
	RawPayload      string `json:"raw_payload,omitempty"`
	ClientIP        string `json:"client_ip,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
}

// NewConversionDispatchTask 创建转化上报任务
func NewConversionDispatchTask(payload ConversionDispatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConversionDispatch, body), nil
}

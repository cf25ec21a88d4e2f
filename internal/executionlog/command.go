// Package executionlog persists execution details of notification jobs
// delivered through the execution-logs queue.
package executionlog

import "time"

// Status is the outcome recorded for one step of a job.
type Status string

const (
	StatusSuccess          Status = "Success"
	StatusWarning          Status = "Warning"
	StatusFailed           Status = "Failed"
	StatusPending          Status = "Pending"
	StatusQueued           Status = "Queued"
	StatusReadConfirmation Status = "ReadConfirmation"
)

// Source identifies who produced an execution detail.
type Source string

const (
	SourceInternal    Source = "Internal"
	SourceCredentials Source = "Credentials"
	SourcePayload     Source = "Payload"
	SourceWebhook     Source = "Webhook"
)

// CreateExecutionDetailsCommand is the payload of an execution-logs job.
type CreateExecutionDetailsCommand struct {
	EnvironmentID          string    `json:"environmentId" validate:"required"`
	OrganizationID         string    `json:"organizationId" validate:"required"`
	SubscriberID           string    `json:"subscriberId" validate:"required"`
	JobID                  string    `json:"jobId" validate:"required"`
	NotificationID         string    `json:"notificationId" validate:"required"`
	NotificationTemplateID string    `json:"notificationTemplateId,omitempty"`
	MessageID              string    `json:"messageId,omitempty"`
	ProviderID             string    `json:"providerId,omitempty"`
	TransactionID          string    `json:"transactionId" validate:"required"`
	Channel                string    `json:"channel,omitempty" validate:"omitempty,oneof=in_app email sms chat push digest trigger delay custom"`
	Detail                 string    `json:"detail" validate:"required,max=1024"`
	Source                 Source    `json:"source" validate:"required,oneof=Internal Credentials Payload Webhook"`
	Status                 Status    `json:"status" validate:"required,oneof=Success Warning Failed Pending Queued ReadConfirmation"`
	IsTest                 bool      `json:"isTest"`
	IsRetry                bool      `json:"isRetry"`
	Raw                    string    `json:"raw,omitempty"`
	CreatedAt              time.Time `json:"createdAt,omitempty"`
}

// ExecutionDetail is the persisted record.
type ExecutionDetail struct {
	ID                     string    `json:"id"`
	EnvironmentID          string    `json:"environmentId"`
	OrganizationID         string    `json:"organizationId"`
	SubscriberID           string    `json:"subscriberId"`
	JobID                  string    `json:"jobId"`
	NotificationID         string    `json:"notificationId"`
	NotificationTemplateID string    `json:"notificationTemplateId,omitempty"`
	MessageID              string    `json:"messageId,omitempty"`
	ProviderID             string    `json:"providerId,omitempty"`
	TransactionID          string    `json:"transactionId"`
	Channel                string    `json:"channel,omitempty"`
	Detail                 string    `json:"detail"`
	Source                 Source    `json:"source"`
	Status                 Status    `json:"status"`
	IsTest                 bool      `json:"isTest"`
	IsRetry                bool      `json:"isRetry"`
	Raw                    string    `json:"raw,omitempty"`
	CreatedAt              time.Time `json:"createdAt"`
}

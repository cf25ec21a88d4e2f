package executionlog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/infrastructure/observability"
)

// detailNamespace scopes the name-based ids of execution details.
var detailNamespace = uuid.MustParse("6f1c2a8e-4b1d-5c3e-9a7f-2d8b0e4c6a11")

// DetailID derives the record id from the fields that identify one step of a
// job, so redelivered jobs map to the same record.
func DetailID(cmd CreateExecutionDetailsCommand) string {
	name := strings.Join([]string{cmd.JobID, cmd.Detail, string(cmd.Status), string(cmd.Source), cmd.Raw}, "\x1f")
	return uuid.NewSHA1(detailNamespace, []byte(name)).String()
}

// CreateExecutionDetails records one execution detail.
type CreateExecutionDetails struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewCreateExecutionDetails creates the use case.
func NewCreateExecutionDetails(repo Repository, logger *slog.Logger) *CreateExecutionDetails {
	return &CreateExecutionDetails{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Execute validates cmd and stores it. Executing the same command twice
// stores one record.
func (c *CreateExecutionDetails) Execute(ctx context.Context, cmd CreateExecutionDetailsCommand) (ExecutionDetail, error) {
	if err := c.validate.Struct(cmd); err != nil {
		return ExecutionDetail{}, domain.WrapError(domain.ErrInvalidInput, "invalid execution details command", err)
	}

	createdAt := cmd.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.now().UTC()
	}

	detail := ExecutionDetail{
		ID:                     DetailID(cmd),
		EnvironmentID:          cmd.EnvironmentID,
		OrganizationID:         cmd.OrganizationID,
		SubscriberID:           cmd.SubscriberID,
		JobID:                  cmd.JobID,
		NotificationID:         cmd.NotificationID,
		NotificationTemplateID: cmd.NotificationTemplateID,
		MessageID:              cmd.MessageID,
		ProviderID:             cmd.ProviderID,
		TransactionID:          cmd.TransactionID,
		Channel:                cmd.Channel,
		Detail:                 cmd.Detail,
		Source:                 cmd.Source,
		Status:                 cmd.Status,
		IsTest:                 cmd.IsTest,
		IsRetry:                cmd.IsRetry,
		Raw:                    cmd.Raw,
		CreatedAt:              createdAt,
	}

	created, err := c.repo.Create(ctx, detail)
	if err != nil {
		return ExecutionDetail{}, domain.WrapError(domain.ErrStoreOperationFailed, "failed to create execution details", err)
	}

	logger := observability.LoggerFromContext(ctx, c.logger)
	if created {
		logger.Debug("execution details created", slog.String("execution_detail_id", detail.ID))
	} else {
		logger.Debug("execution details already recorded", slog.String("execution_detail_id", detail.ID))
	}
	return detail, nil
}

package awsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultSessionDuration is how long assumed-role credentials stay valid.
const DefaultSessionDuration = time.Hour

// STSAPI is the subset of the STS client used to assume a role.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

var _ STSAPI = (*sts.Client)(nil)

// AssumeRoleProvider retrieves temporary credentials for roleARN. Wrap it
// in an aws.CredentialsCache so the role is only assumed again near expiry.
type AssumeRoleProvider struct {
	client      STSAPI
	roleARN     string
	sessionName string
	duration    time.Duration
}

// NewAssumeRoleProvider creates a provider for roleARN. Session names are
// prefixed with sessionName and suffixed with the assume time.
func NewAssumeRoleProvider(client STSAPI, roleARN, sessionName string, duration time.Duration) *AssumeRoleProvider {
	if duration <= 0 {
		duration = DefaultSessionDuration
	}
	return &AssumeRoleProvider{
		client:      client,
		roleARN:     roleARN,
		sessionName: sessionName,
		duration:    duration,
	}
}

// Retrieve implements aws.CredentialsProvider.
func (p *AssumeRoleProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if p.roleARN == "" {
		return aws.Credentials{}, fmt.Errorf("role ARN cannot be empty")
	}

	// Session name with timestamp for uniqueness in CloudTrail
	sessionName := fmt.Sprintf("%s-session-%d", p.sessionName, time.Now().Unix())

	output, err := p.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(p.roleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(p.duration / time.Second)),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to assume role %s: %w", p.roleARN, err)
	}
	if output.Credentials == nil {
		return aws.Credentials{}, errors.New("assume role returned no credentials")
	}

	// Convert STS credentials to AWS SDK credentials
	return aws.Credentials{
		AccessKeyID:     aws.ToString(output.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(output.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(output.Credentials.SessionToken),
		Source:          "AssumeRoleProvider",
		CanExpire:       true,
		Expires:         aws.ToTime(output.Credentials.Expiration),
	}, nil
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/agentgate/core"
)

// lambdaInvoker is the slice of the Lambda client the backend uses.
type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// invokePayload is the wire shape sent to a function backend.
type invokePayload struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// invokeBackend performs single-shot, stateless calls to an AWS Lambda
// function. Requests are signed with the target's own service identity (the
// SDK credential chain); the caller's bearer token is never attached.
type invokeBackend struct {
	target Target
	client lambdaInvoker
}

var _ backend = (*invokeBackend)(nil)

func newInvokeBackend(target Target) (*invokeBackend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load service identity for target %q: %w", target.Name, err)
	}

	return &invokeBackend{target: target, client: lambda.NewFromConfig(cfg)}, nil
}

// CallTool invokes the target function synchronously and decodes its JSON
// response. The bearer parameter is intentionally unused: invoke targets are
// reached under service identity only.
func (b *invokeBackend) CallTool(ctx context.Context, toolName string, args map[string]any, _ string) (any, error) {
	payload, err := json.Marshal(invokePayload{Tool: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", toolName, err)
	}

	out, err := b.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(b.target.Endpoint),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, b.classifyInvokeError(toolName, err)
	}

	// FunctionError marks an unhandled error inside the function itself: the
	// call reached the backend, so retrying won't change the outcome.
	if out.FunctionError != nil {
		return nil, fmt.Errorf("tool %s failed on target %q: %s: %s",
			toolName, b.target.Name, aws.ToString(out.FunctionError), string(out.Payload))
	}

	if len(out.Payload) == 0 {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal(out.Payload, &value); err != nil {
		// Non-JSON payloads pass through as raw text.
		return string(out.Payload), nil
	}

	return value, nil
}

func (b *invokeBackend) classifyInvokeError(toolName string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ServiceException", "ResourceNotReadyException", "EC2ThrottledException":
			return &core.TransientBackendError{Target: b.target.Name, Tool: toolName, Err: err}
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException":
			return &core.AuthError{Target: b.target.Name, Reason: apiErr.ErrorMessage()}
		case "ResourceNotFoundException":
			return &core.RoutingError{Name: b.target.Name, Reason: apiErr.ErrorMessage()}
		default:
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.TransientBackendError{Target: b.target.Name, Tool: toolName, Err: err}
	}

	// Connection-level failures (DNS, refused, reset) are retryable.
	return &core.TransientBackendError{Target: b.target.Name, Tool: toolName, Err: err}
}

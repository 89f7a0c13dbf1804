package filter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/cel-go/cel"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// NewCELSourceFilter compiles a boolean CEL expression evaluated against each source.
// Available variables: bucket, objectKey, accountId, receiveCount, attributes.
//
//	accountId in ['123456789012'] && receiveCount < 5
func NewCELSourceFilter(expression string) (SourceFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("bucket", cel.StringType),
		cel.Variable("objectKey", cel.StringType),
		cel.Variable("accountId", cel.StringType),
		cel.Variable("receiveCount", cel.IntType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	program, err := compileBool(env, expression)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, source types.Source) (bool, error) {
		accountID, _ := source.Attribute(types.AttrAccountID)
		var receiveCount int64
		if rc, ok := source.Attribute(types.AttrApproximateReceiveCount); ok {
			receiveCount, _ = strconv.ParseInt(rc, 10, 64)
		}
		return evalBool(ctx, program, map[string]any{
			"bucket":       source.Bucket,
			"objectKey":    source.ObjectKey,
			"accountId":    accountID,
			"receiveCount": receiveCount,
			"attributes":   source.Attributes(),
		})
	}, nil
}

// NewCELEventFilter compiles a boolean CEL expression evaluated against each event.
// Available variables: eventName, eventSource, eventType, awsRegion, sourceIPAddress,
// userAgent, recipientAccountId, errorCode, readOnly, eventTime, userIdentity.
//
//	eventSource == 's3.amazonaws.com' && !readOnly
func NewCELEventFilter(expression string) (EventFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("eventName", cel.StringType),
		cel.Variable("eventSource", cel.StringType),
		cel.Variable("eventType", cel.StringType),
		cel.Variable("awsRegion", cel.StringType),
		cel.Variable("sourceIPAddress", cel.StringType),
		cel.Variable("userAgent", cel.StringType),
		cel.Variable("recipientAccountId", cel.StringType),
		cel.Variable("errorCode", cel.StringType),
		cel.Variable("readOnly", cel.BoolType),
		cel.Variable("eventTime", cel.TimestampType),
		cel.Variable("userIdentity", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	program, err := compileBool(env, expression)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, event types.Event) (bool, error) {
		d := event.Data
		readOnly := d.ReadOnly != nil && *d.ReadOnly
		identity := d.UserIdentity
		if identity == nil {
			identity = map[string]any{}
		}
		return evalBool(ctx, program, map[string]any{
			"eventName":          d.EventName,
			"eventSource":        d.EventSource,
			"eventType":          d.EventType,
			"awsRegion":          d.AWSRegion,
			"sourceIPAddress":    d.SourceIPAddress,
			"userAgent":          d.UserAgent,
			"recipientAccountId": d.RecipientAccountID,
			"errorCode":          d.ErrorCode,
			"readOnly":           readOnly,
			"eventTime":          d.EventTime,
			"userIdentity":       identity,
		})
	}, nil
}

func compileBool(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

func evalBool(ctx context.Context, program cel.Program, vars map[string]any) (bool, error) {
	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return b, nil
}

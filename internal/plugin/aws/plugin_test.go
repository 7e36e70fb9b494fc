package aws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/types"
)

type mockSQSClient struct {
	mu       sync.Mutex
	batches  [][]sqstypes.Message
	deleted  []string
	receives int
	cancel   context.CancelFunc
}

func (m *mockSQSClient) ReceiveMessage(_ context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receives++
	if len(m.batches) == 0 {
		m.cancel()
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func TestSQSSource_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &mockSQSClient{
		cancel: cancel,
		batches: [][]sqstypes.Message{{
			message("1", `{"event_type":"deploy","source_system":"argo"}`),
			message("2", `{"event_type":"broken"}`),
			message("3", `{"event_type":"reject_me","source_system":"ci"}`),
		}},
	}

	var got []string
	err := NewSQSSource(client, "https://sqs.example/queue").Run(ctx, func(_ context.Context, in types.EventInput) error {
		if in.EventType == "reject_me" {
			return errors.New("queue full")
		}
		got = append(got, in.EventType)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"deploy"}, got)
	// invalid bodies are dropped, rejected events stay for redelivery
	assert.Equal(t, []string{"rh-1", "rh-2"}, client.deleted)
	assert.Equal(t, "sqs", NewSQSSource(client, "").Name())
}

type failingSQSClient struct {
	calls  int
	cancel context.CancelFunc
}

func (f *failingSQSClient) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.calls++
	if f.calls >= 2 {
		f.cancel()
	}
	return nil, errors.New("throttled")
}

func (f *failingSQSClient) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSSource_RetriesReceiveErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &failingSQSClient{cancel: cancel}
	s := NewSQSSource(client, "q")
	s.backoff = time.Millisecond

	require.NoError(t, s.Run(ctx, func(context.Context, types.EventInput) error { return nil }))
	assert.GreaterOrEqual(t, client.calls, 2)
}

type mockCloudTrailClient struct {
	LookupEventsFunc func(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

func (m *mockCloudTrailClient) LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
	return m.LookupEventsFunc(ctx, params, optFns...)
}

func trailEvent(id, name, raw string) cttypes.Event {
	return cttypes.Event{
		EventId:         aws.String(id),
		EventName:       aws.String(name),
		EventTime:       aws.Time(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
		Username:        aws.String("alice"),
		CloudTrailEvent: aws.String(raw),
		Resources: []cttypes.Resource{
			{ResourceName: aws.String("arn:aws:s3:::payments"), ResourceType: aws.String("AWS::S3::Bucket")},
		},
	}
}

func TestCloudTrailSource_PaginatesAndDedupes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := 0
	client := &mockCloudTrailClient{
		LookupEventsFunc: func(_ context.Context, params *cloudtrail.LookupEventsInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
			if params.NextToken == nil {
				polls++
				if polls == 1 {
					return &cloudtrail.LookupEventsOutput{
						Events:    []cttypes.Event{trailEvent("e1", "RunInstances", `{}`)},
						NextToken: aws.String("page-2"),
					}, nil
				}
				// second poll repeats the boundary event
				cancel()
				return &cloudtrail.LookupEventsOutput{
					Events: []cttypes.Event{trailEvent("e2", "StopLogging", `{}`), trailEvent("e2b", "RunInstances", `{}`)},
				}, nil
			}
			return &cloudtrail.LookupEventsOutput{
				Events: []cttypes.Event{trailEvent("e2", "StopLogging", `{}`)},
			}, nil
		},
	}

	s := NewCloudTrailSource(client, CloudTrailOptions{Region: "us-east-1", Interval: time.Millisecond})
	var ids []string
	err := s.Run(ctx, func(_ context.Context, in types.EventInput) error {
		ids = append(ids, in.EventID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e2b"}, ids)
}

func TestConvertEvent(t *testing.T) {
	tests := []struct {
		name         string
		event        cttypes.Event
		wantType     string
		wantSeverity string
		wantDomain   types.Domain
		check        func(t *testing.T, payload map[string]any)
	}{
		{
			name:         "failed console login without mfa",
			event:        trailEvent("1", "ConsoleLogin", `{"additionalEventData":{"MFAUsed":"No"},"responseElements":{"ConsoleLogin":"Failure"},"sourceIPAddress":"203.0.113.9"}`),
			wantType:     "login_failed",
			wantSeverity: "Medium",
			wantDomain:   types.DomainSecurity,
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, false, p["mfa_present"])
				assert.Equal(t, "203.0.113.9", p["source_ip"])
			},
		},
		{
			name:         "successful login with mfa",
			event:        trailEvent("2", "ConsoleLogin", `{"additionalEventData":{"MFAUsed":"Yes"},"responseElements":{"ConsoleLogin":"Success"}}`),
			wantType:     "login_success",
			wantSeverity: "Low",
			wantDomain:   types.DomainSecurity,
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, true, p["mfa_present"])
			},
		},
		{
			name:         "access denied",
			event:        trailEvent("3", "GetObject", `{"errorCode":"AccessDenied"}`),
			wantType:     "UnauthorizedApiCall",
			wantSeverity: "High",
			wantDomain:   types.DomainSecurity,
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, "GetObject", p["action"])
			},
		},
		{
			name:         "trail stopped",
			event:        trailEvent("4", "StopLogging", `{"eventSource":"cloudtrail.amazonaws.com"}`),
			wantType:     "StopLogging",
			wantSeverity: "Critical",
			wantDomain:   types.DomainSecurity,
		},
		{
			name:         "iam change",
			event:        trailEvent("5", "CreateAccessKey", `{}`),
			wantType:     "CreateAccessKey",
			wantSeverity: "Medium",
			wantDomain:   types.DomainSecurity,
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, true, p["privileged"])
			},
		},
		{
			name:         "routine call",
			event:        trailEvent("6", "RunInstances", `not json`),
			wantType:     "RunInstances",
			wantSeverity: "Low",
			wantDomain:   types.DomainInfrastructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ConvertEvent(tt.event)
			assert.Equal(t, tt.wantType, in.EventType)
			assert.Equal(t, tt.wantSeverity, in.Severity)
			assert.Equal(t, string(tt.wantDomain), in.Domain)
			assert.Equal(t, "aws.cloudtrail", in.SourceSystem)
			assert.Equal(t, "alice", in.ActorID)
			assert.Equal(t, "arn:aws:s3:::payments", in.ResourceID)
			if tt.check != nil {
				tt.check(t, in.Payload)
			}

			_, err := types.NewEvent(in)
			require.NoError(t, err)
		})
	}
}

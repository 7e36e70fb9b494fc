package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// CloudTrailOptions configures the trail source.
type CloudTrailOptions struct {
	Region   string
	Interval time.Duration
}

// CloudTrailSource polls LookupEvents and turns management events into
// vigil events.
type CloudTrailSource struct {
	client   CloudTrailAPI
	region   string
	interval time.Duration
	now      func() time.Time
	logger   *telemetry.Logger
}

// NewCloudTrailSource creates a CloudTrail source.
func NewCloudTrailSource(client CloudTrailAPI, opts CloudTrailOptions) *CloudTrailSource {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &CloudTrailSource{
		client:   client,
		region:   opts.Region,
		interval: opts.Interval,
		now:      time.Now,
		logger:   telemetry.NewLogger("cloudtrail-source"),
	}
}

// Name implements plugin.Source.
func (s *CloudTrailSource) Name() string { return "cloudtrail" }

// Run implements plugin.Source. Each poll covers the window since the
// previous one; ids seen in the last poll are skipped because window edges
// are inclusive.
func (s *CloudTrailSource) Run(ctx context.Context, handle plugin.Handler) error {
	since := s.now().Add(-s.interval)
	seen := map[string]bool{}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		until := s.now()
		next, err := s.poll(ctx, since, until, seen, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithContext(ctx).Error().Err(err).Msg("cloudtrail poll failed")
		} else {
			since = until
			seen = next
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *CloudTrailSource) poll(ctx context.Context, start, end time.Time, seen map[string]bool, handle plugin.Handler) (map[string]bool, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "cloudtrail.poll",
		trace.WithAttributes(attribute.String("region", s.region)))
	defer span.End()

	events, err := s.lookup(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	current := make(map[string]bool, len(events))
	delivered := 0
	for _, ev := range events {
		id := aws.ToString(ev.EventId)
		current[id] = true
		if seen[id] {
			continue
		}
		if err := handle(ctx, ConvertEvent(ev)); err != nil {
			return nil, fmt.Errorf("failed to handle cloudtrail event %s: %w", id, err)
		}
		delivered++
	}

	span.SetAttributes(attribute.Int("events.delivered", delivered))
	return current, nil
}

func (s *CloudTrailSource) lookup(ctx context.Context, start, end time.Time) ([]cttypes.Event, error) {
	var (
		events []cttypes.Event
		token  *string
	)
	for {
		out, err := s.client.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			MaxResults: aws.Int32(50),
			NextToken:  token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to lookup CloudTrail events: %w", err)
		}
		events = append(events, out.Events...)
		if out.NextToken == nil || aws.ToString(out.NextToken) == "" {
			return events, nil
		}
		token = out.NextToken
	}
}

// detail holds the parts of the raw CloudTrailEvent JSON we map.
type detail struct {
	EventSource     string `json:"eventSource"`
	AWSRegion       string `json:"awsRegion"`
	SourceIPAddress string `json:"sourceIPAddress"`
	ErrorCode       string `json:"errorCode"`
	UserIdentity    struct {
		Type string `json:"type"`
		ARN  string `json:"arn"`
	} `json:"userIdentity"`
	AdditionalEventData struct {
		MFAUsed string `json:"MFAUsed"`
	} `json:"additionalEventData"`
	ResponseElements struct {
		ConsoleLogin string `json:"ConsoleLogin"`
	} `json:"responseElements"`
}

var unauthorizedCodes = map[string]bool{
	"AccessDenied":                 true,
	"AccessDeniedException":        true,
	"UnauthorizedOperation":        true,
	"Client.UnauthorizedOperation": true,
}

// Trail tampering and exposure changes.
var criticalCalls = map[string]bool{
	"StopLogging": true,
	"DeleteTrail": true,
}

var highRiskCalls = map[string]bool{
	"UpdateTrail":                   true,
	"DeleteFlowLogs":                true,
	"PutBucketPolicy":               true,
	"PutBucketAcl":                  true,
	"DeleteBucketPolicy":            true,
	"DisableKey":                    true,
	"ScheduleKeyDeletion":           true,
	"AuthorizeSecurityGroupIngress": true,
}

var iamCalls = map[string]bool{
	"CreateAccessKey":        true,
	"CreateUser":             true,
	"AttachUserPolicy":       true,
	"AttachRolePolicy":       true,
	"PutUserPolicy":          true,
	"PutRolePolicy":          true,
	"UpdateAssumeRolePolicy": true,
}

// ConvertEvent maps a CloudTrail event onto the vigil wire shape.
func ConvertEvent(ev cttypes.Event) types.EventInput {
	name := aws.ToString(ev.EventName)

	var d detail
	if raw := aws.ToString(ev.CloudTrailEvent); raw != "" {
		_ = json.Unmarshal([]byte(raw), &d)
	}

	payload := map[string]any{
		"action":       name,
		"event_source": d.EventSource,
		"region":       d.AWSRegion,
	}
	if d.SourceIPAddress != "" {
		payload["source_ip"] = d.SourceIPAddress
	}
	if d.ErrorCode != "" {
		payload["error_code"] = d.ErrorCode
	}
	if d.UserIdentity.Type != "" {
		payload["user_type"] = d.UserIdentity.Type
	}

	var resourceID string
	resources := make([]any, 0, len(ev.Resources))
	for _, r := range ev.Resources {
		rn := aws.ToString(r.ResourceName)
		if resourceID == "" {
			resourceID = rn
		}
		resources = append(resources, rn)
	}
	if len(resources) > 0 {
		payload["resources"] = resources
	}

	in := types.EventInput{
		EventID:      aws.ToString(ev.EventId),
		Timestamp:    aws.ToTime(ev.EventTime).UTC(),
		EventType:    name,
		SourceSystem: "aws.cloudtrail",
		Severity:     "Low",
		Domain:       string(types.DomainInfrastructure),
		ActorID:      aws.ToString(ev.Username),
		ResourceID:   resourceID,
		Payload:      payload,
		Tags:         []string{"cloudtrail"},
	}

	switch {
	case name == "ConsoleLogin":
		in.Domain = string(types.DomainSecurity)
		payload["mfa_present"] = d.AdditionalEventData.MFAUsed == "Yes"
		if d.ResponseElements.ConsoleLogin == "Failure" {
			in.EventType = "login_failed"
			in.Severity = "Medium"
		} else {
			in.EventType = "login_success"
		}
	case unauthorizedCodes[d.ErrorCode]:
		in.EventType = "UnauthorizedApiCall"
		in.Domain = string(types.DomainSecurity)
		in.Severity = "High"
	case criticalCalls[name]:
		in.Domain = string(types.DomainSecurity)
		in.Severity = "Critical"
	case highRiskCalls[name]:
		in.Domain = string(types.DomainSecurity)
		in.Severity = "High"
	case iamCalls[name]:
		in.Domain = string(types.DomainSecurity)
		in.Severity = "Medium"
		payload["privileged"] = true
	}

	return in
}
